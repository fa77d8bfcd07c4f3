package prof

// Profile names a runtime/pprof profile.
type Profile string

// Profile type constants.
const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

// String returns the string representation of the profile type.
func (p Profile) String() string {
	return string(p)
}

// Options selects what a session captures.
type Options struct {
	// CPU is the file receiving the CPU profile. Empty disables it.
	CPU string

	// Snapshots maps snapshot profiles to the files written at Stop.
	Snapshots map[Profile]string

	// BlockRate and MutexFraction enable block and mutex sampling for
	// the session's lifetime when positive.
	BlockRate     int
	MutexFraction int
}

// Empty reports whether the options request nothing.
func (o Options) Empty() bool {
	return o.CPU == "" && len(o.Snapshots) == 0
}
