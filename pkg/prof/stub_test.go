//go:build !profile

package prof

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStub(t *testing.T) {
	if Enabled {
		t.Fatal("Enabled = true without the profile tag")
	}
	s, err := Start(Options{CPU: "/nonexistent/cpu.prof"})
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if CPUActive() {
		t.Error("CPUActive() = true")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	mux := http.NewServeMux()
	Mount(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /debug/pprof/ = %d, want 404", rec.Code)
	}
}
