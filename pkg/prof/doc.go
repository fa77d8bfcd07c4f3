// Package prof captures runtime profiles of a simulator run.
//
// It is conditionally compiled using the "profile" build tag:
//
//	go build -tags profile ./cmd/usbsim
//
// Without the tag, Start returns a session that records nothing and
// [Enabled] is false, so callers can keep profiling flags in place at no
// cost.
//
// # Sessions
//
// A session streams a CPU profile for its whole lifetime and writes the
// requested snapshot profiles when it stops:
//
//	s, err := prof.Start(prof.Options{
//	    CPU:       "cpu.prof",
//	    Snapshots: map[prof.Profile]string{prof.ProfileHeap: "heap.prof"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// Only one session may stream a CPU profile at a time; a second one fails
// with [ErrCPUProfileActive].
//
// # HTTP Profiling
//
// [Mount] adds the /debug/pprof/ handlers to a mux, which usbsim serves
// next to /metrics.
package prof
