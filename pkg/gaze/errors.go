package gaze

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the start-failure taxonomy.
var (
	// ErrUnsupported is returned when the runtime has no capture capability.
	ErrUnsupported = errors.New("gaze: capture not supported")

	// ErrPermissionDenied is returned when the user or OS refused capture.
	ErrPermissionDenied = errors.New("gaze: permission denied")

	// ErrPermissionUnresolved is returned when the tracking preference is unset.
	ErrPermissionUnresolved = errors.New("gaze: permission unresolved")

	// ErrEngineUnavailable is returned when the engine could not be loaded
	// or started for a non-permission reason. Retrying may succeed.
	ErrEngineUnavailable = errors.New("gaze: engine unavailable")

	// ErrStreamUnavailable is returned when no capture stream could be attached.
	ErrStreamUnavailable = errors.New("gaze: camera stream unavailable")
)

// StartError wraps a failure with the start stage it happened in.
type StartError struct {
	Stage string // "load", "begin", "stream", "engine"
	Err   error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("gaze: %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartError) Unwrap() error {
	return e.Err
}

// permissionMarkers are substrings engines and capture backends use when a
// device open is refused.
var permissionMarkers = []string{
	"permission",
	"notallowederror",
	"not allowed",
	"access denied",
	"securityerror",
}

// IsPermissionError reports whether err means capture was refused.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permissionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Classify maps a start failure onto a session status.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusActive
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrPermissionUnresolved):
		return StatusUnavailable
	case IsPermissionError(err):
		return StatusDenied
	default:
		return StatusError
	}
}
