package gaze

import "sync/atomic"

// Environment reports runtime capability and the user's preference.
type Environment interface {
	CaptureSupported() bool
	Permission() Permission
}

// Env is a settable Environment. The daemon updates the preference when a
// user answers the tracking prompt.
type Env struct {
	supported  atomic.Bool
	permission atomic.Value // Permission
}

// NewEnv creates an environment.
func NewEnv(supported bool, perm Permission) *Env {
	e := &Env{}
	e.supported.Store(supported)
	e.permission.Store(perm)
	return e
}

// CaptureSupported implements Environment.
func (e *Env) CaptureSupported() bool {
	return e.supported.Load()
}

// Permission implements Environment.
func (e *Env) Permission() Permission {
	p, _ := e.permission.Load().(Permission)
	if p == "" {
		return PermissionUnknown
	}
	return p
}

// SetSupported overrides the capability flag.
func (e *Env) SetSupported(v bool) {
	e.supported.Store(v)
}

// SetPermission records the user's preference.
func (e *Env) SetPermission(p Permission) {
	e.permission.Store(p)
}
