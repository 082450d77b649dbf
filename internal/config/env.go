// Package config provides environment helpers for go-gaze commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults used when the environment does not say otherwise.
const (
	DefaultPort         = "8090"
	DefaultDBPath       = "gaze.db"
	DefaultModelPath    = "models"
	DefaultEngine       = "facegaze"
	DefaultCameraDevice = 0
)

// String returns the value of key, or def when unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns key parsed as an int, or def when unset or malformed.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s=%q is not an integer, using %d\n", key, v, def)
		return def
	}
	return n
}

// Bool returns key parsed as a bool, or def when unset or malformed.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns key parsed with time.ParseDuration, or def.
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s=%q is not a duration, using %v\n", key, v, def)
		return def
	}
	return d
}

// Port returns the HTTP port from GAZE_PORT.
func Port() string {
	return String("GAZE_PORT", DefaultPort)
}

// DBPath returns the calibration database path from GAZE_DB.
func DBPath() string {
	return String("GAZE_DB", DefaultDBPath)
}

// EngineName returns the engine backend from GAZE_ENGINE.
func EngineName() string {
	return String("GAZE_ENGINE", DefaultEngine)
}

// EngineURL returns the remote engine endpoint from GAZE_ENGINE_URL.
func EngineURL() string {
	return os.Getenv("GAZE_ENGINE_URL")
}

// ModelPath returns the model asset base path from GAZE_MODEL_PATH.
func ModelPath() string {
	return String("GAZE_MODEL_PATH", DefaultModelPath)
}

// CameraDevice returns the capture device index from GAZE_CAMERA_DEVICE.
func CameraDevice() int {
	return Int("GAZE_CAMERA_DEVICE", DefaultCameraDevice)
}

// ServerURL returns the base URL of a running gazed from GAZE_SERVER.
func ServerURL(defaultURL string) string {
	return String("GAZE_SERVER", defaultURL)
}
