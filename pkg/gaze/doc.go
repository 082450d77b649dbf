// Package gaze shares one gaze-estimation engine between many consumers.
//
// The engine and the camera behind it are process-wide singletons, so they
// are owned here and handed out by reference count:
//
//   - Lifecycle starts the engine for the first consumer, collapses
//     concurrent starts onto one in-flight attempt, and tears the engine
//     down only after a grace window with no consumers.
//   - Capture opens the camera stream once, attaches it to a VideoSink the
//     engine reads from, and keeps the engine's preview size in sync.
//   - Session is one consumer. It exposes a status, an error message and two
//     latest-value cells (raw and calibrated) written at sensor rate.
//
// Calibration is read from a calibration.Cache on every frame; the cache is
// swapped by pointer so a frame never sees a half-updated model.
package gaze
