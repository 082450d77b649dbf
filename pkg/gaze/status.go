package gaze

// Status is a consumer session state.
//
//	idle -> starting -> active | unsupported | denied | unavailable | error
//
// Only Disable returns a session to idle.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusStarting    Status = "starting"
	StatusActive      Status = "active"
	StatusUnsupported Status = "unsupported" // no capture capability
	StatusDenied      Status = "denied"      // capture refused
	StatusUnavailable Status = "unavailable" // preference not set yet
	StatusError       Status = "error"       // any other start failure
)

// Terminal reports whether the status ends an enable attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusIdle, StatusStarting:
		return false
	}
	return true
}

// Permission is the user's tracking preference.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission maps a string onto a Permission. Anything unrecognised is
// unknown.
func ParsePermission(s string) Permission {
	switch Permission(s) {
	case PermissionGranted, PermissionDenied:
		return Permission(s)
	}
	return PermissionUnknown
}
