package gaze

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-gaze/pkg/camera"
)

// MediaDevices opens camera streams.
type MediaDevices interface {
	// GetUserMedia opens a stream as close to c as the device allows.
	GetUserMedia(ctx context.Context, c camera.Constraints) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	ID() string

	// Active reports whether any track is still live.
	Active() bool

	// Dimensions returns the negotiated frame size, or 0, 0 until the first
	// frame has arrived.
	Dimensions() (width, height int)

	// Stop stops all tracks. Safe to call more than once.
	Stop()
}

// SinkID identifies the single hidden video sink shared by all consumers.
const SinkID = "gaze-video-sink"

// VideoSink is what the engine reads frames from. One exists per process.
type VideoSink struct {
	id string

	mu      sync.RWMutex
	src     Stream
	playing bool
}

// NewVideoSink creates an empty sink.
func NewVideoSink(id string) *VideoSink {
	return &VideoSink{id: id}
}

// ID returns the sink identifier.
func (s *VideoSink) ID() string {
	return s.id
}

// Source returns the attached stream, or nil.
func (s *VideoSink) Source() Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.src
}

// SetSource attaches src. nil detaches and stops playback.
func (s *VideoSink) SetSource(src Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = src
	if src == nil {
		s.playing = false
	}
}

// Play starts playback of the attached stream.
func (s *VideoSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return fmt.Errorf("sink %s: no source", s.id)
	}
	s.playing = true
	return nil
}

// Playing reports whether Play succeeded on the current source.
func (s *VideoSink) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// VideoSize returns the source's frame size, or 0, 0.
func (s *VideoSink) VideoSize() (int, int) {
	src := s.Source()
	if src == nil {
		return 0, 0
	}
	return src.Dimensions()
}

// Capture owns the camera stream and the sink it is attached to.
type Capture struct {
	devices MediaDevices
	cam     ConstraintSource
	cfg     Config
	log     *slog.Logger

	mu     sync.Mutex
	sink   *VideoSink
	opened Stream // stream this manager opened, if any

	viewerMu   sync.Mutex
	lastViewer [2]int
}

// NewCapture creates a capture manager. cam may be nil.
func NewCapture(cfg Config, devices MediaDevices, cam ConstraintSource, log *slog.Logger) *Capture {
	return &Capture{
		devices: devices,
		cam:     cam,
		cfg:     cfg,
		log:     log,
	}
}

// Sink returns the video sink, creating it on first use.
func (c *Capture) Sink() *VideoSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinkLocked()
}

func (c *Capture) sinkLocked() *VideoSink {
	if c.sink == nil {
		c.sink = NewVideoSink(SinkID)
	}
	return c.sink
}

// EnsureStream makes sure the sink has a live source, opening the camera if
// needed. It returns true only when a source is attached on return, so
// callers can decide whether to retry.
func (c *Capture) EnsureStream(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sink := c.sinkLocked()
	if src := sink.Source(); src != nil && src.Active() {
		if !sink.Playing() {
			if err := sink.Play(); err != nil {
				c.log.Warn("sink play failed", "error", err)
			}
		}
		return true, nil
	}

	if c.devices == nil {
		return false, ErrUnsupported
	}

	cons := camera.DefaultConstraints()
	if c.cam != nil {
		cons = c.cam.Get()
	}

	stream, err := c.devices.GetUserMedia(ctx, cons)
	if err != nil {
		return false, err
	}
	if stream == nil {
		return false, nil
	}

	// A previous stream may have died without being released.
	if c.opened != nil && c.opened != stream {
		c.opened.Stop()
	}
	c.opened = stream
	sink.SetSource(stream)
	if err := sink.Play(); err != nil {
		c.log.Warn("sink play failed", "error", err)
	}

	c.log.Info("camera stream attached", "stream", stream.ID(), "constraints", cons.String())
	return sink.Source() != nil, nil
}

// ReleaseStream stops any stream this manager opened and detaches it.
// No-op when nothing is open.
func (c *Capture) ReleaseStream() {
	c.mu.Lock()
	opened := c.opened
	c.opened = nil
	if c.sink != nil {
		c.sink.SetSource(nil)
	}
	c.mu.Unlock()

	if opened != nil {
		opened.Stop()
		c.log.Info("camera stream released", "stream", opened.ID())
	}

	c.viewerMu.Lock()
	c.lastViewer = [2]int{}
	c.viewerMu.Unlock()
}

// Streaming reports whether the sink has a live source.
func (c *Capture) Streaming() bool {
	src := c.Sink().Source()
	return src != nil && src.Active()
}

// PreviewSize scales (w, h) to fit within (maxW, maxH) without upscaling.
func PreviewSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := math.Min(math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h)), 1)
	return int(math.Round(float64(w) * scale)), int(math.Round(float64(h) * scale))
}

// FaceBoxRatio bounds the face feedback box so that a square box of
// ratio*width still fits inside the frame height.
func FaceBoxRatio(base float64, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return base
	}
	return math.Min(base, float64(h)/float64(w))
}

// SyncViewer pushes the bounded preview size and face box ratio to e once
// the sink knows its frame size. Returns true if anything was applied;
// repeating with unchanged dimensions is a no-op.
func (c *Capture) SyncViewer(e Engine) bool {
	if e == nil {
		return false
	}
	w, h := c.Sink().VideoSize()
	if w <= 0 || h <= 0 {
		return false
	}

	vw, vh := PreviewSize(w, h, c.cfg.PreviewMaxWidth, c.cfg.PreviewMaxHeight)

	c.viewerMu.Lock()
	defer c.viewerMu.Unlock()
	if c.lastViewer == [2]int{vw, vh} {
		return false
	}

	e.SetVideoViewerSize(vw, vh)
	e.Params().Set(ParamFaceBoxRatio, FaceBoxRatio(c.cfg.FaceBoxRatio, w, h))
	c.lastViewer = [2]int{vw, vh}

	c.log.Debug("viewer synced", "video", fmt.Sprintf("%dx%d", w, h), "viewer", fmt.Sprintf("%dx%d", vw, vh))
	return true
}

// NoDevices is the MediaDevices for engines that capture on their own host.
// It opens no device; each stream is a placeholder that stays active until
// stopped and reports the requested frame size.
type NoDevices struct{}

var placeholderSeq atomic.Uint64

func (NoDevices) GetUserMedia(ctx context.Context, c camera.Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &placeholderStream{
		id:     fmt.Sprintf("placeholder-%d", placeholderSeq.Add(1)),
		width:  c.Width,
		height: c.Height,
	}
	s.active.Store(true)
	return s, nil
}

type placeholderStream struct {
	id            string
	width, height int
	active        atomic.Bool
}

func (s *placeholderStream) ID() string             { return s.id }
func (s *placeholderStream) Active() bool           { return s.active.Load() }
func (s *placeholderStream) Dimensions() (int, int) { return s.width, s.height }
func (s *placeholderStream) Stop()                  { s.active.Store(false) }
