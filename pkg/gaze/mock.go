package gaze

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-gaze/pkg/camera"
)

// MockEngine is an in-process Engine. Tests drive it with Emit; the daemon
// can run it with a synthetic generator for demos without a camera.
type MockEngine struct {
	// BeginErr is returned by Begin when set.
	BeginErr error
	// BeginDelay is slept (or ctx-cancelled) inside Begin.
	BeginDelay time.Duration
	// Interval enables the synthetic generator when non-zero.
	Interval time.Duration
	// Width and Height bound synthetic points.
	Width, Height float64

	params *Params

	mu          sync.Mutex
	listener    GazeListener
	lossFn      func(err error)
	constraints camera.Constraints
	viewerW     int
	viewerH     int
	points      bool
	faceBox     bool
	running     bool
	paused      bool
	stop        chan struct{}

	begins  atomic.Int64
	ends    atomic.Int64
	pauses  atomic.Int64
	resumes atomic.Int64
}

// NewMockEngine creates an idle mock.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		params: NewParams(),
		Width:  1920,
		Height: 1080,
	}
}

// MockLoader returns a Loader that always yields e.
func MockLoader(e Engine) Loader {
	return func(context.Context) (Engine, error) {
		return e, nil
	}
}

func (m *MockEngine) SetGazeListener(fn GazeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

func (m *MockEngine) Begin(ctx context.Context) error {
	if m.BeginDelay > 0 {
		select {
		case <-time.After(m.BeginDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.BeginErr != nil {
		return m.BeginErr
	}

	m.mu.Lock()
	m.running = true
	m.paused = false
	if m.Interval > 0 && m.stop == nil {
		m.stop = make(chan struct{})
		go m.generate(m.stop)
	}
	m.mu.Unlock()

	m.begins.Add(1)
	return nil
}

func (m *MockEngine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return fmt.Errorf("mock: pause while not running")
	}
	m.paused = true
	m.pauses.Add(1)
	return nil
}

func (m *MockEngine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return fmt.Errorf("mock: resume while not running")
	}
	m.paused = false
	m.resumes.Add(1)
	return nil
}

func (m *MockEngine) End() error {
	m.mu.Lock()
	m.running = false
	m.paused = false
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	m.ends.Add(1)
	return nil
}

func (m *MockEngine) SetLossHandler(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossFn = fn
}

// Lose simulates the engine dying underneath its owner. It stops delivery
// and runs the loss handler on the calling goroutine. Returns false if
// the engine was not running.
func (m *MockEngine) Lose(err error) bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	m.running = false
	m.paused = false
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	fn := m.lossFn
	m.mu.Unlock()

	if fn != nil {
		fn(err)
	}
	return true
}

func (m *MockEngine) ShowPredictionPoints(show bool) {
	m.mu.Lock()
	m.points = show
	m.mu.Unlock()
}

func (m *MockEngine) ShowFaceFeedbackBox(show bool) {
	m.mu.Lock()
	m.faceBox = show
	m.mu.Unlock()
}

func (m *MockEngine) SetVideoViewerSize(w, h int) {
	m.mu.Lock()
	m.viewerW, m.viewerH = w, h
	m.mu.Unlock()
}

func (m *MockEngine) SetCameraConstraints(c camera.Constraints) Engine {
	m.mu.Lock()
	m.constraints = c
	m.mu.Unlock()
	return m
}

func (m *MockEngine) Params() *Params {
	return m.params
}

// Emit delivers p to the listener if the engine is running and not paused.
// Returns whether it was delivered.
func (m *MockEngine) Emit(p RawPoint) bool {
	m.mu.Lock()
	fn := m.listener
	live := m.running && !m.paused
	m.mu.Unlock()

	if !live || fn == nil {
		return false
	}
	if p.Source == "" {
		p.Source = SourceMock
	}
	fn(p)
	return true
}

// Begins returns how many times Begin succeeded.
func (m *MockEngine) Begins() int64 { return m.begins.Load() }

// Ends returns how many times End was called.
func (m *MockEngine) Ends() int64 { return m.ends.Load() }

// Pauses returns how many times Pause succeeded.
func (m *MockEngine) Pauses() int64 { return m.pauses.Load() }

// Resumes returns how many times Resume succeeded.
func (m *MockEngine) Resumes() int64 { return m.resumes.Load() }

// Running reports whether Begin succeeded without a later End.
func (m *MockEngine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Paused reports whether the engine is paused.
func (m *MockEngine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// ViewerSize returns the last size set by SetVideoViewerSize.
func (m *MockEngine) ViewerSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewerW, m.viewerH
}

// Constraints returns the last constraints applied.
func (m *MockEngine) Constraints() camera.Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.constraints
}

// generate traces a Lissajous curve across the screen.
func (m *MockEngine) generate(stop chan struct{}) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			m.Emit(RawPoint{
				X:           m.Width/2 + m.Width*0.4*math.Sin(0.7*t),
				Y:           m.Height/2 + m.Height*0.4*math.Sin(1.1*t),
				Confidence:  0.9,
				TimestampMs: now.UnixMilli(),
				Source:      SourceMock,
			})
		}
	}
}

// MockDevices opens MockStreams.
type MockDevices struct {
	// Err is returned by GetUserMedia when set.
	Err error
	// NoStream makes GetUserMedia return nil, nil.
	NoStream bool
	// FailFirst makes the first n calls return nil, nil.
	FailFirst int
	// Width and Height are reported by opened streams.
	Width, Height int

	mu      sync.Mutex
	calls   int
	streams []*MockStream
	gate    chan struct{}
	waiting atomic.Int32
}

// NewMockDevices creates devices that open 640x480 streams.
func NewMockDevices() *MockDevices {
	return &MockDevices{Width: 640, Height: 480}
}

func (d *MockDevices) GetUserMedia(ctx context.Context, c camera.Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		d.waiting.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		d.waiting.Add(-1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, d.Err
	}
	if d.NoStream || d.calls <= d.FailFirst {
		return nil, nil
	}
	s := &MockStream{
		id:     fmt.Sprintf("mock-%d", len(d.streams)+1),
		width:  d.Width,
		height: d.Height,
	}
	s.active.Store(true)
	d.streams = append(d.streams, s)
	return s, nil
}

// SetGate makes GetUserMedia block until gate is closed. nil removes it.
func (d *MockDevices) SetGate(gate chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = gate
}

// Waiting returns how many GetUserMedia calls are blocked on the gate.
func (d *MockDevices) Waiting() int {
	return int(d.waiting.Load())
}

// Calls returns how many times GetUserMedia was called.
func (d *MockDevices) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Opened returns how many streams have been opened.
func (d *MockDevices) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Live returns how many opened streams are still active.
func (d *MockDevices) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if s.Active() {
			n++
		}
	}
	return n
}

// Last returns the most recently opened stream, or nil.
func (d *MockDevices) Last() *MockStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// MockStream is a fake capture stream.
type MockStream struct {
	id     string
	width  int
	height int
	active atomic.Bool
	stops  atomic.Int64
}

func (s *MockStream) ID() string             { return s.id }
func (s *MockStream) Active() bool           { return s.active.Load() }
func (s *MockStream) Dimensions() (int, int) { return s.width, s.height }

func (s *MockStream) Stop() {
	s.active.Store(false)
	s.stops.Add(1)
}

// Kill marks the stream dead without Stop, like an unplugged device.
func (s *MockStream) Kill() {
	s.active.Store(false)
}

// Stops returns how many times Stop was called.
func (s *MockStream) Stops() int64 {
	return s.stops.Load()
}
