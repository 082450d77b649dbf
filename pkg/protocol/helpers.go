package protocol

import "fmt"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewBeginMessage creates a begin message
func NewBeginMessage(camera CameraConfig, params map[string]any) (*Message, error) {
	return NewMessage(TypeBegin, BeginData{Camera: camera, Params: params})
}

// NewControlMessage creates a data-less pause, resume or end message
func NewControlMessage(t MessageType) (*Message, error) {
	switch t {
	case TypePause, TypeResume, TypeEnd:
		return NewMessage(t, nil)
	}
	return nil, fmt.Errorf("not a control message: %s", t)
}

// NewViewerMessage creates a viewer update message
func NewViewerMessage(v ViewerData) (*Message, error) {
	return NewMessage(TypeViewer, v)
}

// NewReadyMessage creates a ready message
func NewReadyMessage(engine, version string) (*Message, error) {
	return NewMessage(TypeReady, ReadyData{Engine: engine, Version: version})
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message})
}

// NewGazeMessage creates a raw gaze message
func NewGazeMessage(x, y, confidence float64, t int64) (*Message, error) {
	return NewMessage(TypeGaze, GazeData{X: x, Y: y, Confidence: confidence, T: t})
}

// NewStatusMessage creates a session status message
func NewStatusMessage(session, status, errMsg string) (*Message, error) {
	return NewMessage(TypeStatus, StatusData{Session: session, Status: status, Error: errMsg})
}

// NewPointMessage creates a calibrated point message
func NewPointMessage(p PointData) (*Message, error) {
	return NewMessage(TypePoint, p)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: nowMillis()})
}

// NewPongMessage creates a pong message in reply to a ping
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for extracting data
// =============================================================================

// GetBeginData extracts begin data
func (m *Message) GetBeginData() (*BeginData, error) {
	var d BeginData
	if err := m.expect(TypeBegin, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetViewerData extracts viewer data
func (m *Message) GetViewerData() (*ViewerData, error) {
	var d ViewerData
	if err := m.expect(TypeViewer, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetReadyData extracts ready data
func (m *Message) GetReadyData() (*ReadyData, error) {
	var d ReadyData
	if err := m.expect(TypeReady, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetErrorData extracts error data
func (m *Message) GetErrorData() (*ErrorData, error) {
	var d ErrorData
	if err := m.expect(TypeError, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetGazeData extracts gaze data
func (m *Message) GetGazeData() (*GazeData, error) {
	var d GazeData
	if err := m.expect(TypeGaze, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetStatusData extracts status data
func (m *Message) GetStatusData() (*StatusData, error) {
	var d StatusData
	if err := m.expect(TypeStatus, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetPointData extracts point data
func (m *Message) GetPointData() (*PointData, error) {
	var d PointData
	if err := m.expect(TypePoint, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetPingData extracts ping data
func (m *Message) GetPingData() (*PingData, error) {
	var d PingData
	if err := m.expect(TypePing, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetPongData extracts pong data
func (m *Message) GetPongData() (*PongData, error) {
	var d PongData
	if err := m.expect(TypePong, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (m *Message) expect(t MessageType, v interface{}) error {
	if m.Type != t {
		return fmt.Errorf("expected %s message, got %s", t, m.Type)
	}
	return m.ParseData(v)
}
