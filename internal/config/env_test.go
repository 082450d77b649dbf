package config

import (
	"testing"
	"time"
)

func TestStringFallback(t *testing.T) {
	t.Setenv("GAZE_TEST_STRING", "")
	if got := String("GAZE_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %q", got)
	}

	t.Setenv("GAZE_TEST_STRING", "set")
	if got := String("GAZE_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("Expected set, got %q", got)
	}
}

func TestIntMalformed(t *testing.T) {
	t.Setenv("GAZE_TEST_INT", "nope")
	if got := Int("GAZE_TEST_INT", 7); got != 7 {
		t.Errorf("Expected 7 for malformed value, got %d", got)
	}

	t.Setenv("GAZE_TEST_INT", "3")
	if got := Int("GAZE_TEST_INT", 7); got != 3 {
		t.Errorf("Expected 3, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("GAZE_GRACE", "400ms")
	if got := Duration("GAZE_GRACE", time.Second); got != 400*time.Millisecond {
		t.Errorf("Expected 400ms, got %v", got)
	}

	t.Setenv("GAZE_GRACE", "soon")
	if got := Duration("GAZE_GRACE", time.Second); got != time.Second {
		t.Errorf("Expected fallback 1s, got %v", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("GAZE_TEST_BOOL", "true")
	if !Bool("GAZE_TEST_BOOL", false) {
		t.Error("Expected true")
	}
	t.Setenv("GAZE_TEST_BOOL", "maybe")
	if Bool("GAZE_TEST_BOOL", false) {
		t.Error("Expected fallback false")
	}
}

func TestPortDefault(t *testing.T) {
	t.Setenv("GAZE_PORT", "")
	if Port() != DefaultPort {
		t.Errorf("Expected default port %s, got %s", DefaultPort, Port())
	}
}
