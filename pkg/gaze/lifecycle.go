package gaze

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-gaze/pkg/camera"
)

// ConstraintSource supplies camera constraints at engine start.
// *camera.Manager implements it.
type ConstraintSource interface {
	Get() camera.Constraints
}

// Lifecycle is the reference-counted owner of the shared engine.
//
// The first Acquire loads and begins the engine; concurrent Acquires while
// that start is in flight wait on the same attempt. When the count drops to
// zero the engine is paused at once and ended only if nobody re-acquires
// within Config.GraceWindow.
type Lifecycle struct {
	cfg  Config
	load Loader
	cam  ConstraintSource
	log  *slog.Logger

	// OnStop runs after the engine has been ended, before any new start is
	// allowed to begin. Capture hooks camera release here.
	OnStop func()

	// OnLost runs when a running engine died on its own and could not be
	// restarted for the consumers still holding it.
	OnLost func(err error)

	mu        sync.Mutex
	refCount  int
	running   bool
	paused    bool
	engine    Engine     // loaded module, kept across cold starts unless NoCache
	start     *startCall // in flight, or the call that produced the running engine
	stopTimer *time.Timer
	stopGen   uint64
	ending    chan struct{} // closed once a pending End has returned

	// ctl serializes Pause/Resume calls so they run outside mu in the
	// order the state changed. applied is what the engine was last told.
	ctl     sync.Mutex
	applied bool

	lmu       sync.RWMutex
	listeners map[uint64]GazeListener
	nextID    uint64

	loads  atomic.Int64
	begins atomic.Int64
	ends   atomic.Int64
	losses atomic.Int64
}

// startCall is the shared future for one start attempt.
type startCall struct {
	done   chan struct{}
	engine Engine
	err    error
}

// NewLifecycle creates a lifecycle around load. cam may be nil, in which
// case camera.DefaultConstraints are used.
func NewLifecycle(cfg Config, load Loader, cam ConstraintSource, log *slog.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:       cfg,
		load:      load,
		cam:       cam,
		log:       log,
		listeners: make(map[uint64]GazeListener),
	}
}

// Acquire registers a consumer and returns the running engine, starting it
// if needed. The count is incremented even when the start fails, so every
// Acquire must be paired with a Release.
func (l *Lifecycle) Acquire(ctx context.Context) (Engine, error) {
	l.mu.Lock()
	l.refCount++
	l.cancelStopLocked()

	if l.running {
		e := l.engine
		resume := l.paused
		l.paused = false
		l.mu.Unlock()
		if resume {
			l.syncPause()
		}
		return e, nil
	}

	call := l.start
	if call == nil {
		call = &startCall{done: make(chan struct{})}
		l.start = call
		go l.run(call, l.ending)
	}
	l.mu.Unlock()

	select {
	case <-call.done:
		return call.engine, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release drops one consumer. Extra releases are ignored. Returns the
// remaining count.
func (l *Lifecycle) Release() int {
	l.mu.Lock()
	if l.refCount == 0 {
		l.mu.Unlock()
		return 0
	}
	l.refCount--
	n := l.refCount

	idle := n == 0 && l.running
	if idle {
		l.scheduleStopLocked()
	}
	l.mu.Unlock()

	if idle {
		l.syncPause()
	}
	return n
}

// Subscribe adds a raw-point listener. The returned cancel blocks until any
// delivery in progress has finished, so after it returns fn is never called
// again.
func (l *Lifecycle) Subscribe(fn GazeListener) (cancel func()) {
	l.lmu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.lmu.Lock()
			delete(l.listeners, id)
			l.lmu.Unlock()
		})
	}
}

// Shutdown ends the engine now, ignoring the reference count. Used at
// process exit.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	l.cancelStopLocked()
	l.refCount = 0
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.stopLocked(true)
}

// RefCount returns the number of active consumers.
func (l *Lifecycle) RefCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refCount
}

// Running reports whether the engine has begun and not yet ended.
func (l *Lifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// LifecycleStats is a point-in-time view for status endpoints.
type LifecycleStats struct {
	RefCount  int   `json:"ref_count"`
	Running   bool  `json:"running"`
	Paused    bool  `json:"paused"`
	Starting  bool  `json:"starting"`
	Loads     int64 `json:"loads"`
	Begins    int64 `json:"begins"`
	Ends      int64 `json:"ends"`
	Losses    int64 `json:"losses"`
	Listeners int   `json:"listeners"`
}

// Stats returns counters and state.
func (l *Lifecycle) Stats() LifecycleStats {
	l.mu.Lock()
	st := LifecycleStats{
		RefCount: l.refCount,
		Running:  l.running,
		Paused:   l.paused,
		Starting: l.start != nil && !l.running,
	}
	l.mu.Unlock()

	l.lmu.RLock()
	st.Listeners = len(l.listeners)
	l.lmu.RUnlock()

	st.Loads = l.loads.Load()
	st.Begins = l.begins.Load()
	st.Ends = l.ends.Load()
	st.Losses = l.losses.Load()
	return st
}

// run performs one start attempt and resolves call.
func (l *Lifecycle) run(call *startCall, ending chan struct{}) {
	if ending != nil {
		<-ending
	}

	e, err := l.begin(context.Background())

	if err != nil {
		l.mu.Lock()
		l.start = nil
		l.mu.Unlock()

		l.log.Warn("engine start failed", "error", err)
		call.err = err
		close(call.done)
		return
	}

	l.ctl.Lock()
	l.applied = false
	l.ctl.Unlock()

	l.mu.Lock()
	l.running = true
	l.paused = false
	l.engine = e
	call.engine = e
	// Every consumer may have left while we were starting.
	idle := l.refCount == 0
	if idle {
		l.scheduleStopLocked()
	}
	l.mu.Unlock()

	if idle {
		l.syncPause()
	}
	l.log.Info("engine started")
	close(call.done)
}

func (l *Lifecycle) begin(ctx context.Context) (Engine, error) {
	e, err := l.loadEngine(ctx)
	if err != nil {
		return nil, &StartError{Stage: "load", Err: err}
	}

	cons := camera.DefaultConstraints()
	if l.cam != nil {
		cons = l.cam.Get()
	}
	e = e.SetCameraConstraints(cons)

	p := e.Params()
	p.Set(ParamModelBasePath, l.cfg.ModelBasePath)
	p.Set(ParamFaceBoxRatio, l.cfg.FaceBoxRatio)
	p.Set(ParamScreenWidth, l.cfg.ViewportWidth)
	p.Set(ParamScreenHeight, l.cfg.ViewportHeight)
	p.Set(ParamDebug, l.cfg.Debug)
	e.ShowPredictionPoints(l.cfg.Debug)
	e.ShowFaceFeedbackBox(l.cfg.ShowFaceBox)
	e.SetGazeListener(l.dispatch)
	if ln, ok := e.(LossNotifier); ok {
		ln.SetLossHandler(func(err error) { l.engineLost(e, err) })
	}

	if err := e.Begin(ctx); err != nil {
		e.SetGazeListener(nil)
		return nil, &StartError{Stage: "begin", Err: err}
	}
	l.begins.Add(1)
	return e, nil
}

func (l *Lifecycle) loadEngine(ctx context.Context) (Engine, error) {
	l.mu.Lock()
	cached := l.engine
	l.mu.Unlock()
	if cached != nil && !l.cfg.NoCache {
		return cached, nil
	}

	if l.load == nil {
		return nil, ErrEngineUnavailable
	}
	e, err := l.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	if e == nil {
		return nil, ErrEngineUnavailable
	}
	l.loads.Add(1)

	l.mu.Lock()
	l.engine = e
	l.mu.Unlock()
	return e, nil
}

func (l *Lifecycle) dispatch(p RawPoint) {
	l.lmu.RLock()
	defer l.lmu.RUnlock()
	for _, fn := range l.listeners {
		fn(p)
	}
}

// scheduleStopLocked marks the engine paused and arms the grace timer.
// The caller runs syncPause after unlocking.
func (l *Lifecycle) scheduleStopLocked() {
	if l.stopTimer != nil {
		return
	}
	l.paused = true

	l.stopGen++
	gen := l.stopGen
	l.stopTimer = time.AfterFunc(l.cfg.GraceWindow, func() {
		l.stopIfIdle(gen)
	})
}

// cancelStopLocked disarms a pending grace timer. The generation bump makes
// a timer that already fired ignore itself.
func (l *Lifecycle) cancelStopLocked() {
	if l.stopTimer == nil {
		return
	}
	l.stopTimer.Stop()
	l.stopTimer = nil
	l.stopGen++
}

func (l *Lifecycle) stopIfIdle(gen uint64) {
	l.mu.Lock()
	if gen != l.stopGen || l.refCount > 0 || !l.running {
		l.mu.Unlock()
		return
	}
	l.stopTimer = nil
	l.stopLocked(true)
}

// syncPause tells the engine to match the paused flag. Engine calls can be
// slow network writes, so they never run under mu.
func (l *Lifecycle) syncPause() {
	l.ctl.Lock()
	defer l.ctl.Unlock()

	l.mu.Lock()
	e, want, running := l.engine, l.paused, l.running
	l.mu.Unlock()
	if !running || e == nil || want == l.applied {
		return
	}

	var err error
	if want {
		err = e.Pause()
	} else {
		err = e.Resume()
	}
	if err != nil {
		l.log.Warn("engine pause/resume failed", "paused", want, "error", err)
	}
	l.applied = want
}

// engineLost handles an engine that died without End. Consumers still
// holding it get one restart attempt; if that fails the camera is released
// and OnLost reports the failure.
func (l *Lifecycle) engineLost(e Engine, cause error) {
	l.mu.Lock()
	if !l.running || l.engine != e {
		l.mu.Unlock()
		return
	}
	l.cancelStopLocked()
	l.losses.Add(1)
	l.log.Warn("engine lost", "error", cause)
	l.stopLocked(false)

	l.mu.Lock()
	var call *startCall
	if l.refCount > 0 && l.start == nil {
		call = &startCall{done: make(chan struct{})}
		l.start = call
		go l.run(call, l.ending)
	}
	onStop, onLost := l.OnStop, l.OnLost
	l.mu.Unlock()

	if call != nil {
		<-call.done
		if call.err == nil {
			l.log.Info("engine restarted after loss")
			return
		}
		cause = call.err
	}
	if onStop != nil {
		onStop()
	}
	if onLost != nil {
		onLost(cause)
	}
}

// stopLocked ends the engine. Called with l.mu held; releases it.
// release runs OnStop afterwards.
func (l *Lifecycle) stopLocked(release bool) {
	e := l.engine
	l.running = false
	l.paused = false
	l.start = nil
	if l.cfg.NoCache {
		l.engine = nil
	}
	ending := make(chan struct{})
	l.ending = ending
	onStop := l.OnStop
	if !release {
		onStop = nil
	}
	l.mu.Unlock()

	e.SetGazeListener(nil)
	if err := e.End(); err != nil {
		l.log.Warn("engine end failed", "error", err)
	}
	l.ends.Add(1)
	l.log.Info("engine stopped")

	if onStop != nil {
		onStop()
	}

	close(ending)
	l.mu.Lock()
	if l.ending == ending {
		l.ending = nil
	}
	l.mu.Unlock()
}
