package gaze

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/debug"
)

// ModelSource returns the current calibration model. *calibration.Cache
// implements it.
type ModelSource interface {
	Load() *calibration.Model
}

// Session is one consumer of the shared engine.
//
// Status and Err are the only fields meant to drive UI updates. The raw and
// calibrated cells are written once per engine frame and are read on demand
// by whatever render loop wants them.
type Session struct {
	id  string
	cfg Config
	lc  *Lifecycle
	cap *Capture
	env Environment
	cal ModelSource
	log *slog.Logger

	// OnStatus is called after each status change, outside the session lock.
	OnStatus func(s *Session, st Status, msg string)

	mu         sync.Mutex
	enabled    bool
	status     Status
	errMsg     string
	acquired   bool // holds a lifecycle reference
	engine     Engine
	unsub      func()
	watchdog   *time.Timer
	gen        uint64 // bumped by Enable and Disable; stale work compares it
	startedAt  time.Time
	seqAtStart uint64

	viewport     atomic.Pointer[calibration.Viewport]
	raw          Cell[RawPoint]
	calibrated   Cell[CalibratedPoint]
	lastGazeAt   atomic.Int64
	watchdogRuns atomic.Int64
}

// NewSession creates an idle session. cal may be nil (uncalibrated).
func NewSession(id string, cfg Config, lc *Lifecycle, capture *Capture, env Environment, cal ModelSource, log *slog.Logger) *Session {
	s := &Session{
		id:     id,
		cfg:    cfg,
		lc:     lc,
		cap:    capture,
		env:    env,
		cal:    cal,
		log:    log.With("session", id),
		status: StatusIdle,
	}
	s.viewport.Store(&calibration.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the last start error message, or "".
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Enabled reports whether the consumer has asked for tracking.
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Raw returns the latest raw point.
func (s *Session) Raw() (RawPoint, bool) {
	return s.raw.Load()
}

// Calibrated returns the latest calibrated point.
func (s *Session) Calibrated() (CalibratedPoint, bool) {
	return s.calibrated.Load()
}

// CalibratedSeq returns how many calibrated points have been written.
func (s *Session) CalibratedSeq() uint64 {
	return s.calibrated.Seq()
}

// LastGazeAt returns when the last raw point arrived, or the zero time.
func (s *Session) LastGazeAt() time.Time {
	ms := s.lastGazeAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// WatchdogRuns returns how many times the liveness watchdog had to
// re-attach the stream.
func (s *Session) WatchdogRuns() int64 {
	return s.watchdogRuns.Load()
}

// SetViewport sets the consumer's drawable size used for calibration.
func (s *Session) SetViewport(vp calibration.Viewport) {
	s.viewport.Store(&vp)
}

// Viewport returns the consumer's drawable size.
func (s *Session) Viewport() calibration.Viewport {
	return *s.viewport.Load()
}

// Enable starts tracking for this consumer and returns the resulting
// status. Failures are reported through the status, never returned.
// Enabling an already enabled session returns its current status.
func (s *Session) Enable(ctx context.Context) Status {
	s.mu.Lock()
	if s.enabled {
		st := s.status
		s.mu.Unlock()
		return st
	}
	s.enabled = true
	s.gen++
	gen := s.gen

	if !s.env.CaptureSupported() {
		return s.settleLocked(StatusUnsupported, "")
	}
	switch s.env.Permission() {
	case PermissionDenied:
		return s.settleLocked(StatusDenied, "")
	case PermissionGranted:
	default:
		return s.settleLocked(StatusUnavailable, "")
	}

	s.setStatusLocked(StatusStarting, "")
	s.mu.Unlock()
	s.notify(StatusStarting, "")

	engine, err := s.lc.Acquire(ctx)

	// From here on this call owns one lifecycle reference. Hand it to the
	// session, or give it back if the session was disabled meanwhile.
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.lc.Release()
		return s.Status()
	}
	s.acquired = true
	s.mu.Unlock()

	if err == nil && engine == nil {
		err = ErrEngineUnavailable
	}
	if err != nil {
		return s.fail(gen, err)
	}

	// Subscribe under the lock so a Disable racing the stream attach below
	// always finds the subscription. onGaze never takes s.mu.
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return s.Status()
	}
	s.unsub = s.lc.Subscribe(s.onGaze)
	s.mu.Unlock()

	attached, err := s.attachStream(ctx)
	if !attached {
		s.detach(gen)
		if err == nil {
			err = ErrStreamUnavailable
		}
		return s.fail(gen, &StartError{Stage: "stream", Err: err})
	}
	s.cap.SyncViewer(engine)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return s.Status()
	}
	s.engine = engine
	s.startedAt = time.Now()
	s.seqAtStart = s.raw.Seq()
	s.watchdog = time.AfterFunc(s.cfg.WatchdogDelay, func() {
		s.checkLiveness(gen)
	})
	return s.settleLocked(StatusActive, "")
}

// Disable stops tracking for this consumer and returns it to idle. The gaze
// callback is detached before Disable returns, so no later frame can write
// into the session.
func (s *Session) Disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	s.gen++
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	unsub := s.unsub
	s.unsub = nil
	acquired := s.acquired
	s.acquired = false
	s.engine = nil
	s.setStatusLocked(StatusIdle, "")
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if acquired {
		s.lc.Release()
	}
	s.notify(StatusIdle, "")
}

// Retry disables and re-enables the session. Used after a recoverable
// failure once the cause (preference, device) has changed.
func (s *Session) Retry(ctx context.Context) Status {
	s.Disable()
	return s.Enable(ctx)
}

// detach drops the gaze subscription if gen is still current.
func (s *Session) detach(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// engineLost moves an active session to a failure status after the shared
// engine died and could not be restarted. The lifecycle reference is kept
// until Disable, like any other start failure.
func (s *Session) engineLost(err error) {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.engine = nil
	s.mu.Unlock()

	s.detach(gen)
	s.fail(gen, &StartError{Stage: "engine", Err: err})
}

func (s *Session) attachStream(ctx context.Context) (bool, error) {
	attempts := max(s.cfg.StreamAttempts, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		ok, err := s.cap.EnsureStream(ctx)
		if ok {
			return true, nil
		}
		lastErr = err
		if err != nil && (IsPermissionError(err) || errors.Is(err, ErrUnsupported)) {
			break
		}
		if i < attempts-1 {
			select {
			case <-time.After(s.cfg.StreamRetryDelay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	return false, lastErr
}

// fail maps err onto a status unless the session moved on.
func (s *Session) fail(gen uint64, err error) Status {
	st := Classify(err)
	msg := ""
	if st == StatusError {
		msg = err.Error()
	}

	s.mu.Lock()
	if gen != s.gen {
		cur := s.status
		s.mu.Unlock()
		return cur
	}
	s.log.Warn("enable failed", "status", st, "error", err)
	return s.settleLocked(st, msg)
}

// settleLocked sets a status, unlocks, and notifies.
func (s *Session) settleLocked(st Status, msg string) Status {
	changed := s.setStatusLocked(st, msg)
	s.mu.Unlock()
	if changed {
		s.notify(st, msg)
	}
	return st
}

func (s *Session) setStatusLocked(st Status, msg string) bool {
	changed := s.status != st || s.errMsg != msg
	s.status = st
	s.errMsg = msg
	return changed
}

func (s *Session) notify(st Status, msg string) {
	s.log.Debug("status", "status", st, "error", msg)
	if cb := s.OnStatus; cb != nil {
		cb(s, st, msg)
	}
}

// onGaze runs on the engine's delivery goroutine for every frame.
func (s *Session) onGaze(p RawPoint) {
	s.raw.Store(p)

	var m *calibration.Model
	if s.cal != nil {
		m = s.cal.Load()
	}
	cp := Calibrate(p, m, s.Viewport())
	s.calibrated.Store(cp)
	s.lastGazeAt.Store(time.Now().UnixMilli())

	debug.FrameLog("👁️  [%s] raw=(%.0f,%.0f) cal=(%.0f,%.0f) c=%.2f\n",
		s.id, p.X, p.Y, cp.X, cp.Y, p.Confidence)
}

// checkLiveness re-attaches the stream if no point has arrived since the
// session went active. It never changes the status.
func (s *Session) checkLiveness(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.watchdog = nil
	engine := s.engine
	seq := s.seqAtStart
	s.mu.Unlock()

	if s.raw.Seq() > seq {
		return
	}

	s.watchdogRuns.Add(1)
	s.log.Warn("no gaze points since start, re-attaching stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ok, err := s.cap.EnsureStream(ctx); !ok {
		s.log.Warn("stream re-attach failed", "error", err)
	}
	s.cap.SyncViewer(engine)
}
