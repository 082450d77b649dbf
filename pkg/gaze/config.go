package gaze

import (
	"fmt"
	"time"
)

// Config holds the tunables for engine loading and consumer sessions.
// None of these affect calibration correctness.
type Config struct {
	// Engine loading
	EngineURL     string // Remote engine endpoint (remote backend only)
	ModelBasePath string // Directory holding face/landmark model assets
	NoCache       bool   // Reload the engine module on every cold start
	Debug         bool   // Show prediction points, verbose engine logging

	// Preview
	PreviewMaxWidth  int     // Upper bound for the engine's video viewer
	PreviewMaxHeight int     //
	FaceBoxRatio     float64 // Face feedback box size as a fraction of frame width
	ShowFaceBox      bool

	// Lifecycle timing
	GraceWindow   time.Duration // Delay between last release and engine end
	WatchdogDelay time.Duration // How long after active to check for points

	// Stream attach
	StreamAttempts   int           // EnsureStream attempts during enable
	StreamRetryDelay time.Duration // Pause between attempts

	// Default viewport for sessions that do not report one
	ViewportWidth  float64
	ViewportHeight float64
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		ModelBasePath: "models",

		PreviewMaxWidth:  320,
		PreviewMaxHeight: 240,
		FaceBoxRatio:     0.66,
		ShowFaceBox:      true,

		// Long enough to cover a route change remount
		GraceWindow:   250 * time.Millisecond,
		WatchdogDelay: 1500 * time.Millisecond,

		StreamAttempts:   3,
		StreamRetryDelay: 100 * time.Millisecond,

		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// FastConfig tightens timings for kiosks where consumers rarely remount.
func FastConfig() Config {
	cfg := DefaultConfig()
	cfg.GraceWindow = 100 * time.Millisecond
	cfg.WatchdogDelay = 750 * time.Millisecond
	return cfg
}

// LowPowerConfig keeps the engine alive longer to avoid camera restarts
// and shrinks the preview.
func LowPowerConfig() Config {
	cfg := DefaultConfig()
	cfg.GraceWindow = 2 * time.Second
	cfg.WatchdogDelay = 3 * time.Second
	cfg.PreviewMaxWidth = 160
	cfg.PreviewMaxHeight = 120
	return cfg
}

// Validate checks ranges. Returns a list of validation errors, or nil.
func (c *Config) Validate() []string {
	var errors []string

	if c.PreviewMaxWidth <= 0 || c.PreviewMaxHeight <= 0 {
		errors = append(errors, "preview max size must be positive")
	}
	if c.FaceBoxRatio <= 0 || c.FaceBoxRatio > 1 {
		errors = append(errors, "face_box_ratio must be in (0, 1]")
	}
	if c.GraceWindow < 0 {
		errors = append(errors, "grace_window must not be negative")
	}
	if c.WatchdogDelay <= 0 {
		errors = append(errors, "watchdog_delay must be positive")
	}
	if c.StreamAttempts < 1 {
		errors = append(errors, "stream_attempts must be at least 1")
	}
	if c.ViewportWidth < 0 || c.ViewportHeight < 0 {
		errors = append(errors, fmt.Sprintf("viewport %vx%v must not be negative", c.ViewportWidth, c.ViewportHeight))
	}

	return errors
}
