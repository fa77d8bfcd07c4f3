//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"sort"
	"sync"
)

// Enabled reports whether the binary was built with profiling.
const Enabled = true

// Profiling errors.
var (
	// ErrCPUProfileActive indicates another session streams a CPU profile.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrInvalidProfile indicates an invalid or unsupported profile type.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	// cpuMutex protects cpuActive.
	cpuMutex  sync.Mutex
	cpuActive bool
)

// Session is a running profile capture.
type Session struct {
	opts    Options
	cpuFile io.WriteCloser
	once    sync.Once
	err     error
}

// Start begins a session. Snapshot destinations are checked up front so a
// bad path fails before the run instead of after it.
func Start(opts Options) (*Session, error) {
	for p := range opts.Snapshots {
		if p == ProfileCPU || pprof.Lookup(string(p)) == nil {
			return nil, fmt.Errorf("%s: %w", p, ErrInvalidProfile)
		}
	}

	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}
	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexFraction)
	}

	s := &Session{opts: opts}
	if opts.CPU == "" {
		return s, nil
	}

	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if cpuActive {
		return nil, ErrCPUProfileActive
	}
	f, err := os.Create(opts.CPU)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	s.cpuFile = f
	cpuActive = true
	return s, nil
}

// Stop ends the CPU profile and writes the snapshots, in profile name
// order. Calling it again returns the first result.
func (s *Session) Stop() error {
	s.once.Do(func() {
		var errs []error
		if s.cpuFile != nil {
			cpuMutex.Lock()
			pprof.StopCPUProfile()
			cpuActive = false
			cpuMutex.Unlock()
			errs = append(errs, s.cpuFile.Close())
		}

		names := make([]string, 0, len(s.opts.Snapshots))
		for p := range s.opts.Snapshots {
			names = append(names, string(p))
		}
		sort.Strings(names)
		for _, name := range names {
			errs = append(errs, writeFile(Profile(name), s.opts.Snapshots[Profile(name)]))
		}

		if s.opts.BlockRate > 0 {
			runtime.SetBlockProfileRate(0)
		}
		if s.opts.MutexFraction > 0 {
			runtime.SetMutexProfileFraction(0)
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}

// CPUActive reports whether a session is streaming a CPU profile.
func CPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuActive
}

// WriteTo writes a snapshot profile to w. debug 0 produces the binary
// format read by go tool pprof; debug 1 produces text.
func WriteTo(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%s: %w", profile, ErrInvalidProfile)
	}
	p := pprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%s: %w", profile, ErrInvalidProfile)
	}
	return p.WriteTo(w, debug)
}

func writeFile(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTo(profile, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Mount registers the pprof handlers under /debug/pprof/ on mux.
func Mount(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
}
