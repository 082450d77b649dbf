// gazed - gaze tracking daemon
// Shares one camera-backed gaze engine between any number of consumer
// sessions and serves points over REST and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teslashibe/go-gaze/internal/config"
	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/calibration/sqlitestore"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/debug"
	"github.com/teslashibe/go-gaze/pkg/engine/facegaze"
	"github.com/teslashibe/go-gaze/pkg/engine/remote"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/web"
	"github.com/teslashibe/go-gaze/pkg/webcam"
)

func main() {
	port := flag.String("port", config.Port(), "HTTP port")
	dbPath := flag.String("db", config.DBPath(), "Calibration database path")
	engineName := flag.String("engine", config.EngineName(), "Gaze engine: facegaze, remote, mock")
	engineURL := flag.String("engine-url", config.EngineURL(), "WebSocket URL of a remote engine")
	modelPath := flag.String("models", config.ModelPath(), "Directory holding model assets")
	device := flag.Int("device", config.CameraDevice(), "Capture device index")
	preset := flag.String("camera", camera.PresetDefault, "Camera preset: "+fmt.Sprint(camera.PresetNames()))
	permission := flag.String("permission", config.String("GAZE_PERMISSION", "granted"), "Initial tracking preference: granted, denied, unknown")
	profile := flag.String("profile", config.String("GAZE_PROFILE", "default"), "Timing profile: default, fast, lowpower")
	grace := flag.Duration("grace", config.Duration("GAZE_GRACE", gaze.DefaultConfig().GraceWindow), "Delay before an unused engine is stopped")
	fakeCamera := flag.Bool("fake-camera", config.Bool("GAZE_FAKE_CAMERA", false), "Use a synthetic camera instead of a real device")
	logLevel := flag.String("log-level", config.String("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.BoolVar(&debug.Enabled, "debug", false, "Enable verbose debug logging")
	flag.BoolVar(&debug.Frames, "debug-frames", false, "Log every processed frame")
	flag.Parse()

	if debug.Enabled {
		*logLevel = "debug"
	}
	log.Init(*logLevel)
	logger := log.L()

	fmt.Println("👁️  gazed starting")

	cfg := gaze.DefaultConfig()
	switch *profile {
	case "fast":
		cfg = gaze.FastConfig()
	case "lowpower":
		cfg = gaze.LowPowerConfig()
	}
	cfg.ModelBasePath = *modelPath
	cfg.EngineURL = *engineURL
	if os.Getenv("GAZE_GRACE") != "" {
		cfg.GraceWindow = *grace
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "grace" {
			cfg.GraceWindow = *grace
		}
	})
	cfg.Debug = debug.Enabled
	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", errs)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Calibration store
	store, err := sqlitestore.Open(ctx, *dbPath, log.Component("calibration"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to open calibration store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	cache := calibration.NewCache(store)
	defer cache.Close()
	if store.ReadModel() != nil {
		fmt.Printf("🎯 Calibration loaded: %s\n", store.ReadModel().ID)
	} else {
		fmt.Println("🎯 No calibration yet, points pass through uncorrected")
	}

	// Camera
	base := camera.GetPreset(*preset)
	if base == nil {
		fmt.Fprintf(os.Stderr, "❌ Unknown camera preset: %s\n", *preset)
		os.Exit(1)
	}
	cam := camera.NewManager(*base)
	cam.OnChange = func(c camera.Constraints) error {
		logger.Info("camera constraints changed", "constraints", c.String(), "applies", "next engine start")
		return nil
	}

	var devices gaze.MediaDevices
	supported := true
	switch {
	case *engineName == "remote":
		devices = gaze.NoDevices{}
		fmt.Println("📷 Camera: captured on the engine host")
	case *fakeCamera:
		devices = gaze.NewMockDevices()
		fmt.Println("📷 Using synthetic camera")
	default:
		supported = webcam.Supported()
		devices = webcam.NewDevices(strconv.Itoa(*device), log.Component("webcam"))
		fmt.Printf("📷 Camera: %s (%s)\n", webcam.DevicePath(strconv.Itoa(*device)), base.String())
	}
	env := gaze.NewEnv(supported, gaze.ParsePermission(*permission))

	// Engine
	var mgr *gaze.Manager
	var local atomic.Pointer[facegaze.Engine]
	var load gaze.Loader
	switch *engineName {
	case "facegaze":
		// The sink belongs to the manager, so build the loader lazily
		load = func(ctx context.Context) (gaze.Engine, error) {
			e, err := facegaze.Loader(cfg, mgr.Capture().Sink(), log.Component("facegaze"))(ctx)
			if fe, ok := e.(*facegaze.Engine); ok {
				local.Store(fe)
			}
			return e, err
		}
	case "remote":
		if *engineURL == "" {
			fmt.Fprintln(os.Stderr, "❌ -engine-url is required for the remote engine")
			os.Exit(1)
		}
		load = remote.Loader(cfg.EngineURL, log.Component("remote"))
	case "mock":
		e := gaze.NewMockEngine()
		e.Interval = 33 * time.Millisecond
		e.Width, e.Height = float64(base.Width), float64(base.Height)
		load = gaze.MockLoader(e)
	default:
		fmt.Fprintf(os.Stderr, "❌ Unknown engine: %s\n", *engineName)
		os.Exit(1)
	}
	fmt.Printf("🧠 Engine: %s\n", *engineName)

	mgr = gaze.NewManager(cfg, load, devices, cam, env, cache, log.Component("gaze"))

	opts := web.DefaultOptions(*port)
	opts.Preview = func() ([]byte, bool) {
		if e := local.Load(); e != nil {
			return e.Preview()
		}
		return nil, false
	}
	server := web.NewServer(opts, mgr, env, cam, store, log.Component("web"))
	server.StartAsync()

	fmt.Printf("🌐 API: http://localhost:%s/api/status\n", *port)
	fmt.Println("✅ Ready (Ctrl+C to stop)")

	<-ctx.Done()

	fmt.Println("\n👋 Shutting down...")
	if err := server.Shutdown(); err != nil {
		logger.Warn("web shutdown", "error", err)
	}
	mgr.Shutdown()
	fmt.Println("✅ Stopped")
}
