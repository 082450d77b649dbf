// Package webcam opens local cameras through OpenCV and exposes them as
// gaze capture streams.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

const (
	// firstFrameTimeout bounds how long GetUserMedia waits for the first
	// frame before handing back a stream without dimensions.
	firstFrameTimeout = 2 * time.Second

	// maxReadFailures consecutive failed reads mark the stream dead.
	maxReadFailures = 30
)

// Devices opens one configured camera.
type Devices struct {
	device string
	log    *slog.Logger
	nextID atomic.Int64
}

// NewDevices creates a device opener. device is an index ("0") or a path
// ("/dev/video2").
func NewDevices(device string, log *slog.Logger) *Devices {
	if device == "" {
		device = "0"
	}
	return &Devices{device: device, log: log}
}

// Supported reports whether this host can capture at all.
func Supported() bool {
	if runtime.GOOS != "linux" {
		return true
	}
	matches, _ := filepath.Glob("/dev/video*")
	return len(matches) > 0
}

// GetUserMedia implements gaze.MediaDevices.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (gaze.Stream, error) {
	if err := checkAccess(DevicePath(d.device)); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(deviceArg(d.device))
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", d.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %s: device not opened", d.device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.FrameRate))

	s := newStream(fmt.Sprintf("webcam-%s-%d", d.device, d.nextID.Add(1)), vc, d.log)
	go s.loop()

	timer := time.NewTimer(firstFrameTimeout)
	defer timer.Stop()
	select {
	case <-s.first:
	case <-timer.C:
		d.log.Warn("no frame yet from camera", "device", d.device)
	case <-ctx.Done():
		s.Stop()
		return nil, ctx.Err()
	}
	return s, nil
}

// DevicePath returns the device node for an index on Linux, or device
// unchanged.
func DevicePath(device string) string {
	if _, err := strconv.Atoi(device); err == nil && runtime.GOOS == "linux" {
		return "/dev/video" + device
	}
	return device
}

func deviceArg(device string) interface{} {
	if n, err := strconv.Atoi(device); err == nil {
		return n
	}
	return device
}

// checkAccess turns an OS permission failure into gaze.ErrPermissionDenied.
// Missing paths are left for OpenCV to report.
func checkAccess(path string) error {
	f, err := os.Open(path)
	if err == nil {
		f.Close()
		return nil
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s", gaze.ErrPermissionDenied, path)
	}
	return nil
}

// Stream is an open camera with a background read loop. The latest frame is
// kept; older frames are overwritten.
type Stream struct {
	id  string
	vc  *gocv.VideoCapture
	log *slog.Logger

	mu     sync.RWMutex
	frame  gocv.Mat
	width  int
	height int
	seq    uint64

	active    atomic.Bool
	first     chan struct{}
	firstOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func newStream(id string, vc *gocv.VideoCapture, log *slog.Logger) *Stream {
	s := &Stream{
		id:    id,
		vc:    vc,
		log:   log,
		frame: gocv.NewMat(),
		first: make(chan struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// ID implements gaze.Stream.
func (s *Stream) ID() string {
	return s.id
}

// Active implements gaze.Stream.
func (s *Stream) Active() bool {
	return s.active.Load()
}

// Dimensions implements gaze.Stream.
func (s *Stream) Dimensions() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// ReadFrame copies the latest frame into dst. It returns the frame's
// sequence number so callers can skip frames they have already processed.
func (s *Stream) ReadFrame(dst *gocv.Mat) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == 0 || s.frame.Empty() {
		return 0, false
	}
	s.frame.CopyTo(dst)
	return s.seq, true
}

// Stop implements gaze.Stream.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.active.Store(false)
		close(s.stop)
		<-s.done
		s.vc.Close()

		s.mu.Lock()
		s.frame.Close()
		s.seq = 0
		s.mu.Unlock()
	})
}

func (s *Stream) loop() {
	defer close(s.done)

	buf := gocv.NewMat()
	defer buf.Close()

	failures := 0
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.vc.Read(&buf); !ok || buf.Empty() {
			failures++
			if failures >= maxReadFailures {
				s.log.Warn("camera stopped delivering frames", "stream", s.id)
				s.active.Store(false)
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures = 0

		s.mu.Lock()
		buf.CopyTo(&s.frame)
		s.width, s.height = buf.Cols(), buf.Rows()
		s.seq++
		s.mu.Unlock()

		s.firstOnce.Do(func() { close(s.first) })
	}
}
