// Package pkg provides shared utilities for the fsusb device stack.
//
// This package contains common functionality used by the device core,
// the function drivers and the simulator, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB protocol errors
//   - Fatal/Assert for invariant violations
//
// The package has no external dependencies so that it builds for TinyGo
// targets.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDevice, "device configured", "config", 1)
//
// # Errors
//
// Recoverable errors are sentinel values:
//
//	if errors.Is(err, pkg.ErrNoResources) {
//	    // endpoint budget exhausted
//	}
//
// Invariant violations are not recoverable. [Fatal] logs and panics with an
// [*InvariantError]; on a microcontroller this halts the core.
package pkg
