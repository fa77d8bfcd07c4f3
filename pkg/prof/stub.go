//go:build !profile

package prof

import (
	"io"
	"net/http"
)

// Enabled reports whether the binary was built with profiling.
const Enabled = false

// Profiling errors (defined for API compatibility but never returned by stubs).
var (
	// ErrCPUProfileActive indicates another session streams a CPU profile.
	ErrCPUProfileActive error

	// ErrInvalidProfile indicates an invalid or unsupported profile type.
	ErrInvalidProfile error
)

// Session is a no-op when built without the "profile" tag.
type Session struct{}

// Start is a no-op when built without the "profile" tag.
func Start(Options) (*Session, error) {
	return &Session{}, nil
}

// Stop is a no-op when built without the "profile" tag.
func (*Session) Stop() error {
	return nil
}

// CPUActive always returns false when built without the "profile" tag.
func CPUActive() bool {
	return false
}

// WriteTo is a no-op when built without the "profile" tag.
func WriteTo(Profile, io.Writer, int) error {
	return nil
}

// Mount is a no-op when built without the "profile" tag.
func Mount(*http.ServeMux) {}
