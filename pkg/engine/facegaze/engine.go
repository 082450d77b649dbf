// Package facegaze is a local gaze engine: YuNet face landmarks from the
// shared video sink are turned into screen points by head pose.
package facegaze

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/debug"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// FrameSource is implemented by streams that hand out decoded frames.
// *webcam.Stream implements it.
type FrameSource interface {
	ReadFrame(dst *gocv.Mat) (seq uint64, ok bool)
}

// Loader returns a gaze.Loader that builds an Engine reading from sink.
// It fails when the model is missing so the lifecycle reports the engine as
// unavailable instead of starting a loop that can never detect anything.
func Loader(cfg gaze.Config, sink *gaze.VideoSink, log *slog.Logger) gaze.Loader {
	return func(ctx context.Context) (gaze.Engine, error) {
		path := filepath.Join(cfg.ModelBasePath, ModelFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model file not found: %s", path)
		}
		return New(sink, DefaultEstimatorOptions(), log), nil
	}
}

var (
	colorBox    = color.RGBA{R: 0, G: 200, B: 255, A: 0}
	colorGuide  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	colorPoints = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Engine implements gaze.Engine on a local YuNet detector.
type Engine struct {
	sink   *gaze.VideoSink
	log    *slog.Logger
	params *gaze.Params

	mu          sync.Mutex
	listener    gaze.GazeListener
	constraints camera.Constraints
	showPoints  bool
	showFaceBox bool
	viewerW     int
	viewerH     int
	estimator   *Estimator
	detector    *Detector
	running     bool
	paused      bool
	stop        chan struct{}
	done        chan struct{}

	preview atomic.Pointer[[]byte]
	frames  atomic.Int64
	faces   atomic.Int64
}

// New creates an idle engine.
func New(sink *gaze.VideoSink, opts EstimatorOptions, log *slog.Logger) *Engine {
	return &Engine{
		sink:        sink,
		log:         log.With("engine", "facegaze"),
		params:      gaze.NewParams(),
		constraints: camera.DefaultConstraints(),
		estimator:   NewEstimator(opts),
	}
}

func (e *Engine) SetGazeListener(fn gaze.GazeListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

// Begin loads the detector and starts the frame loop. Frames are picked up
// as soon as a stream is attached to the sink.
func (e *Engine) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	base := e.params.String(gaze.ParamModelBasePath, "models")
	det, err := NewDetector(DefaultDetectorConfig(filepath.Join(base, ModelFile)))
	if err != nil {
		return err
	}

	e.detector = det
	e.running = true
	e.paused = false
	e.estimator.Reset()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stop, e.done, e.constraints.FrameRate)

	e.log.Info("facegaze started", "constraints", e.constraints.String())
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return fmt.Errorf("facegaze: not running")
	}
	e.paused = true
	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return fmt.Errorf("facegaze: not running")
	}
	e.paused = false
	e.estimator.Reset()
	return nil
}

func (e *Engine) End() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done

	e.mu.Lock()
	if e.detector != nil {
		e.detector.Close()
		e.detector = nil
	}
	e.mu.Unlock()

	e.preview.Store(nil)
	e.log.Info("facegaze stopped", "frames", e.frames.Load(), "faces", e.faces.Load())
	return nil
}

func (e *Engine) ShowPredictionPoints(show bool) {
	e.mu.Lock()
	e.showPoints = show
	e.mu.Unlock()
}

func (e *Engine) ShowFaceFeedbackBox(show bool) {
	e.mu.Lock()
	e.showFaceBox = show
	e.mu.Unlock()
}

func (e *Engine) SetVideoViewerSize(w, h int) {
	e.mu.Lock()
	e.viewerW, e.viewerH = w, h
	e.mu.Unlock()
}

func (e *Engine) SetCameraConstraints(c camera.Constraints) gaze.Engine {
	e.mu.Lock()
	e.constraints = c
	e.estimator.SetMirror(c.Facing != camera.FacingEnvironment)
	e.mu.Unlock()
	return e
}

func (e *Engine) Params() *gaze.Params {
	return e.params
}

// Preview returns the latest annotated JPEG, if a viewer size is set.
func (e *Engine) Preview() ([]byte, bool) {
	p := e.preview.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

func (e *Engine) loop(stop, done chan struct{}, fps int) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(max(fps, 1)))
	defer ticker.Stop()

	frame := gocv.NewMat()
	defer frame.Close()

	var lastSeq uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		paused := e.paused
		e.mu.Unlock()
		if paused {
			continue
		}

		fs, ok := e.sink.Source().(FrameSource)
		if !ok || !e.sink.Playing() {
			continue
		}
		seq, ok := fs.ReadFrame(&frame)
		if !ok || seq == lastSeq {
			continue
		}
		lastSeq = seq

		e.process(frame)
	}
}

func (e *Engine) process(frame gocv.Mat) {
	e.frames.Add(1)

	e.mu.Lock()
	det := e.detector
	e.mu.Unlock()
	if det == nil {
		return
	}

	faces, err := det.Detect(frame)
	if err != nil {
		e.log.Debug("detect failed", "error", err)
		return
	}
	best := SelectBest(faces)

	e.updatePreview(frame, best)

	e.mu.Lock()
	fn := e.listener
	if best == nil {
		e.estimator.Reset()
		e.mu.Unlock()
		return
	}
	screenW := e.params.Float(gaze.ParamScreenWidth, 1920)
	screenH := e.params.Float(gaze.ParamScreenHeight, 1080)
	x, y, ok := e.estimator.Estimate(*best, screenW, screenH)
	e.mu.Unlock()

	if !ok {
		return
	}
	e.faces.Add(1)
	debug.FrameLog("👁️  facegaze face=%.2f point=(%.0f,%.0f)\n", best.Score, x, y)

	if fn != nil {
		fn(gaze.RawPoint{
			X:           x,
			Y:           y,
			Confidence:  best.Score,
			TimestampMs: time.Now().UnixMilli(),
			Source:      gaze.SourceFaceGaze,
		})
	}
}

// updatePreview draws the feedback box and landmarks and stores a JPEG
// scaled to the viewer size.
func (e *Engine) updatePreview(frame gocv.Mat, best *Face) {
	e.mu.Lock()
	w, h := e.viewerW, e.viewerH
	showPoints, showBox := e.showPoints, e.showFaceBox
	e.mu.Unlock()
	if w <= 0 || h <= 0 {
		return
	}

	img := frame.Clone()
	defer img.Close()

	if showBox {
		ratio := e.params.Float(gaze.ParamFaceBoxRatio, 0.66)
		side := int(ratio * float64(img.Cols()))
		x0 := (img.Cols() - side) / 2
		y0 := (img.Rows() - side) / 2
		gocv.Rectangle(&img, image.Rect(x0, y0, x0+side, y0+side), colorGuide, 1)
		if best != nil {
			gocv.Rectangle(&img, image.Rect(int(best.X), int(best.Y), int(best.X+best.W), int(best.Y+best.H)), colorBox, 2)
		}
	}
	if showPoints && best != nil {
		for _, p := range best.Landmarks {
			gocv.Circle(&img, image.Pt(int(p.X), int(p.Y)), 3, colorPoints, -1)
		}
	}

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(img, &small, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, small)
	if err != nil {
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()
	e.preview.Store(&data)
}
