// Package web serves the gaze daemon's REST API and WebSocket streams.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/hub"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

// CalibrationStore is the persistent model store.
// *sqlitestore.Store implements it.
type CalibrationStore interface {
	ReadModel() *calibration.Model
	Save(ctx context.Context, m *calibration.Model, samples []calibration.Sample) error
	Get(ctx context.Context, id string) (*calibration.Model, error)
	List(ctx context.Context, limit int) ([]*calibration.Model, error)
	Samples(ctx context.Context, id string) ([]calibration.Sample, error)
	Activate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Server.
type Options struct {
	Port string

	// RenderInterval is how often /ws/gaze pushes the latest point
	RenderInterval time.Duration

	// PreviewInterval is how often the preview hub is fed
	PreviewInterval time.Duration

	// Preview returns the engine's annotated frame, if it has one
	Preview func() ([]byte, bool)
}

// DefaultOptions returns 60 Hz points and 10 Hz preview.
func DefaultOptions(port string) Options {
	return Options{
		Port:            port,
		RenderInterval:  16 * time.Millisecond,
		PreviewInterval: 100 * time.Millisecond,
	}
}

// Server is the web API server
type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger

	sessions *gaze.Manager
	env      *gaze.Env
	cam      *camera.Manager
	store    CalibrationStore

	// Hubs for websocket broadcast
	statusHub  *hub.Hub
	previewHub *hub.Hub

	started time.Time
	stop    chan struct{}
	running atomic.Bool
}

// NewServer creates the API server
func NewServer(opts Options, sessions *gaze.Manager, env *gaze.Env, cam *camera.Manager, store CalibrationStore, log *slog.Logger) *Server {
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = DefaultOptions(opts.Port).RenderInterval
	}
	s := &Server{
		opts:       opts,
		log:        log,
		sessions:   sessions,
		env:        env,
		cam:        cam,
		store:      store,
		statusHub:  hub.New("status"),
		previewHub: hub.New("preview"),
		started:    time.Now(),
		stop:       make(chan struct{}),
	}

	sessions.OnStatus = s.broadcastStatus

	app := fiber.New(fiber.Config{
		AppName:               "gazed",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Put("/permission", s.handleSetPermission)

	api.Get("/sessions", s.handleListSessions)
	api.Post("/sessions", s.handleOpenSession)
	api.Get("/sessions/:id", s.handleGetSession)
	api.Delete("/sessions/:id", s.handleCloseSession)
	api.Post("/sessions/:id/enable", s.handleEnable)
	api.Post("/sessions/:id/disable", s.handleDisable)
	api.Put("/sessions/:id/viewport", s.handleViewport)
	api.Get("/sessions/:id/point", s.handlePoint)

	api.Get("/calibration", s.handleGetCalibration)
	api.Put("/calibration", s.handlePutCalibration)
	api.Post("/calibration/fit", s.handleFit)
	api.Get("/calibration/models", s.handleListModels)
	api.Get("/calibration/models/:id", s.handleGetModel)
	api.Post("/calibration/models/:id/activate", s.handleActivateModel)
	api.Delete("/calibration/models/:id", s.handleDeleteModel)

	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handlePutCamera)
	api.Get("/camera/presets", s.handleCameraPresets)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/gaze/:id", s.requireSession, websocket.New(s.handleGazeWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/preview", websocket.New(s.handlePreviewWS))

	s.app = app
	return s
}

// Start starts the web server and blocks until it stops
func (s *Server) Start() error {
	s.log.Info("web api listening", "url", fmt.Sprintf("http://localhost:%s", s.opts.Port))

	s.startBackground()
	return s.app.Listen(":" + s.opts.Port)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.log.Error("web server error", "error", err)
		}
	}()
}

func (s *Server) startBackground() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.statusHub.Run()
	go s.previewHub.Run()
	if s.opts.Preview != nil && s.opts.PreviewInterval > 0 {
		go s.previewLoop()
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	if s.running.CompareAndSwap(true, false) {
		close(s.stop)
		s.statusHub.Stop()
		s.previewHub.Stop()
	}
	return s.app.Shutdown()
}

// broadcastStatus forwards session status changes to /ws/status
func (s *Server) broadcastStatus(sess *gaze.Session, st gaze.Status, msg string) {
	m, err := protocol.NewStatusMessage(sess.ID(), string(st), msg)
	if err != nil {
		return
	}
	// A slow watcher only needs each session's newest status
	s.statusHub.BroadcastLatest("status:"+sess.ID(), m)
}

// previewLoop feeds preview frames while anyone is watching
func (s *Server) previewLoop() {
	ticker := time.NewTicker(s.opts.PreviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.previewHub.ClientCount() == 0 {
				continue
			}
			if frame, ok := s.opts.Preview(); ok {
				s.previewHub.BroadcastBinary(frame)
			}
		}
	}
}

// errorHandler renders every error as {"error": ...}
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
