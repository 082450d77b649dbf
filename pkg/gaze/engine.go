package gaze

import (
	"context"
	"sync"

	"github.com/teslashibe/go-gaze/pkg/camera"
)

// GazeListener receives raw points from an engine. It runs on the engine's
// delivery goroutine and must not block.
type GazeListener func(p RawPoint)

// Engine is the surface consumed from a gaze-estimation backend.
type Engine interface {
	// SetGazeListener installs the push callback. nil detaches it.
	SetGazeListener(fn GazeListener)

	// Begin starts the camera-to-prediction loop.
	Begin(ctx context.Context) error

	// Pause stops predictions but keeps the camera and model warm.
	Pause() error

	// Resume undoes Pause.
	Resume() error

	// End stops the engine and releases everything it holds.
	End() error

	ShowPredictionPoints(show bool)
	ShowFaceFeedbackBox(show bool)
	SetVideoViewerSize(width, height int)

	// SetCameraConstraints applies constraints for the next Begin and
	// returns the engine for chaining.
	SetCameraConstraints(c camera.Constraints) Engine

	// Params is the engine's free-form configuration bag.
	Params() *Params
}

// LossNotifier is implemented by engines that can die after Begin, such as
// an engine in another process. The handler runs at most once per Begin,
// after the engine has stopped delivering points.
type LossNotifier interface {
	SetLossHandler(fn func(err error))
}

// Loader loads the engine module. It is called once per cold start at most
// and its result is cached unless Config.NoCache is set. Returning a nil
// engine with a nil error means the engine is not available here.
type Loader func(ctx context.Context) (Engine, error)

// Well-known Params keys.
const (
	ParamModelBasePath = "modelBasePath"
	ParamFaceBoxRatio  = "faceFeedbackBoxRatio"
	ParamScreenWidth   = "screenWidth"
	ParamScreenHeight  = "screenHeight"
	ParamDebug         = "debug"
)

// Params is a concurrency-safe key/value bag.
type Params struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewParams creates an empty bag.
func NewParams() *Params {
	return &Params{m: make(map[string]any)}
}

// Set stores v under key.
func (p *Params) Set(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]any)
	}
	p.m[key] = v
}

// Get returns the raw value for key.
func (p *Params) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.m[key]
	return v, ok
}

// Snapshot returns a copy of every entry.
func (p *Params) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.m))
	for k, v := range p.m {
		out[k] = v
	}
	return out
}

// String returns key as a string, or def.
func (p *Params) String(key, def string) string {
	if v, ok := p.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Float returns key as a float64, or def. Integers are converted.
func (p *Params) Float(key string, def float64) float64 {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// Bool returns key as a bool, or def.
func (p *Params) Bool(key string, def bool) bool {
	if v, ok := p.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
