// Package protocol defines the WebSocket messages exchanged with remote gaze
// engines and with consumers of the gaze daemon.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Daemon → Engine messages
	TypeBegin  MessageType = "begin"  // Start predictions
	TypePause  MessageType = "pause"  // Stop predictions, keep camera warm
	TypeResume MessageType = "resume" // Undo pause
	TypeEnd    MessageType = "end"    // Release everything
	TypeViewer MessageType = "viewer" // Preview size / face box update

	// Engine → Daemon messages
	TypeReady MessageType = "ready" // Begin succeeded
	TypeError MessageType = "error" // Begin or runtime failure
	TypeGaze  MessageType = "gaze"  // Raw gaze estimate

	// Daemon → Consumer messages
	TypeStatus MessageType = "status" // Session status change
	TypePoint  MessageType = "point"  // Calibrated point for a session

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Error codes carried by TypeError.
const (
	CodePermissionDenied = "permission_denied"
	CodeUnsupported      = "unsupported"
	CodeInternal         = "internal"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Daemon → Engine Message Types
// =============================================================================

// BeginData asks the engine to start
type BeginData struct {
	Camera CameraConfig   `json:"camera"`
	Params map[string]any `json:"params,omitempty"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FrameRate int    `json:"frame_rate,omitempty"`
	Facing    string `json:"facing,omitempty"` // "user", "environment"
}

// ViewerData updates preview settings
type ViewerData struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	FaceBoxRatio     float64 `json:"face_box_ratio,omitempty"`
	ShowPoints       bool    `json:"show_points"`
	ShowFaceFeedback bool    `json:"show_face_feedback"`
}

// =============================================================================
// Engine → Daemon Message Types
// =============================================================================

// ReadyData confirms a successful begin
type ReadyData struct {
	Engine  string `json:"engine"`
	Version string `json:"version,omitempty"`
}

// ErrorData reports a failure
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GazeData is one raw estimate in screen pixels
type GazeData struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	T          int64   `json:"t"` // Unix milliseconds
}

// =============================================================================
// Daemon → Consumer Message Types
// =============================================================================

// StatusData reports a session status change
type StatusData struct {
	Session string `json:"session"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// PointData is the latest calibrated point for a session
type PointData struct {
	Session    string  `json:"session"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	RawX       float64 `json:"raw_x"`
	RawY       float64 `json:"raw_y"`
	Confidence float64 `json:"confidence"`
	T          int64   `json:"t"`
	Source     string  `json:"source,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
