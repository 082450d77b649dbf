// Package remote is a gaze engine that runs out of process and streams
// points over a WebSocket.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	readyTimeout     = 15 * time.Second
	writeWait        = 5 * time.Second
)

// ErrNotConnected is returned by control calls before Begin.
var ErrNotConnected = errors.New("remote: not connected")

// Loader returns a gaze.Loader for the engine at url.
func Loader(url string, log *slog.Logger) gaze.Loader {
	return func(ctx context.Context) (gaze.Engine, error) {
		if url == "" {
			return nil, fmt.Errorf("remote: no engine url configured")
		}
		return New(url, log), nil
	}
}

// Engine implements gaze.Engine against a remote process.
type Engine struct {
	url    string
	dialer websocket.Dialer
	log    *slog.Logger
	params *gaze.Params

	mu          sync.Mutex
	conn        *websocket.Conn
	done        chan struct{}
	listener    gaze.GazeListener
	onLost      func(err error)
	constraints camera.Constraints
	viewer      protocol.ViewerData

	wmu    sync.Mutex // serializes writes
	paused atomic.Bool
	points atomic.Int64
}

// New creates an unconnected engine.
func New(url string, log *slog.Logger) *Engine {
	return &Engine{
		url:         url,
		dialer:      websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:         log.With("engine", "remote", "url", url),
		params:      gaze.NewParams(),
		constraints: camera.DefaultConstraints(),
	}
}

func (e *Engine) SetGazeListener(fn gaze.GazeListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

// Begin connects, sends the begin request and waits for ready or error.
func (e *Engine) Begin(ctx context.Context) error {
	e.mu.Lock()
	if e.conn != nil {
		e.mu.Unlock()
		return nil
	}
	cons := e.constraints
	e.mu.Unlock()

	conn, _, err := e.dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return fmt.Errorf("remote: connect failed: %w", err)
	}

	msg, err := protocol.NewBeginMessage(protocol.CameraConfig{
		Width:     cons.Width,
		Height:    cons.Height,
		FrameRate: cons.FrameRate,
		Facing:    cons.Facing,
	}, e.params.Snapshot())
	if err != nil {
		conn.Close()
		return err
	}
	if err := writeMessage(conn, msg); err != nil {
		conn.Close()
		return fmt.Errorf("remote: send begin: %w", err)
	}

	if err := awaitReady(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.conn = conn
	e.done = done
	viewer := e.viewer
	e.mu.Unlock()
	e.paused.Store(false)

	go e.readLoop(conn, done)

	if viewer.Width > 0 {
		e.send(protocol.TypeViewer, viewer)
	}
	e.log.Info("remote engine ready")
	return nil
}

// awaitReady reads until ready or error, bounded by ctx and readyTimeout.
func awaitReady(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(readyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("remote: waiting for ready: %w", err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case protocol.TypeReady:
			return nil
		case protocol.TypeError:
			d, err := msg.GetErrorData()
			if err != nil {
				return fmt.Errorf("remote: bad error message: %w", err)
			}
			return engineError(d)
		}
	}
}

// engineError maps a remote error onto the gaze error taxonomy.
func engineError(d *protocol.ErrorData) error {
	switch d.Code {
	case protocol.CodePermissionDenied:
		return fmt.Errorf("%w: %s", gaze.ErrPermissionDenied, d.Message)
	case protocol.CodeUnsupported:
		return fmt.Errorf("%w: %s", gaze.ErrUnsupported, d.Message)
	}
	return fmt.Errorf("remote: %s", d.Message)
}

// SetLossHandler installs fn, called when the remote drops the connection
// without End having been called.
func (e *Engine) SetLossHandler(fn func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLost = fn
}

// readLoop delivers points until the connection closes. A close that End
// did not start clears the connection and reports the loss.
func (e *Engine) readLoop(conn *websocket.Conn, done chan struct{}) {
	err := e.read(conn)

	e.mu.Lock()
	lost := e.conn == conn
	if lost {
		e.conn, e.done = nil, nil
	}
	onLost := e.onLost
	e.mu.Unlock()
	close(done)

	if !lost {
		return
	}
	conn.Close()
	e.log.Warn("remote engine connection lost", "error", err, "points", e.points.Load())
	if onLost != nil {
		onLost(fmt.Errorf("remote: connection lost: %w", err))
	}
}

func (e *Engine) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.log.Debug("read loop ended", "error", err)
			}
			return err
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			e.log.Debug("bad message", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeGaze:
			g, err := msg.GetGazeData()
			if err != nil || e.paused.Load() {
				continue
			}
			e.mu.Lock()
			fn := e.listener
			e.mu.Unlock()
			if fn != nil {
				fn(gaze.RawPoint{
					X:           g.X,
					Y:           g.Y,
					Confidence:  g.Confidence,
					TimestampMs: g.T,
					Source:      gaze.SourceRemote,
				})
			}
			e.points.Add(1)

		case protocol.TypePing:
			p, err := msg.GetPingData()
			if err == nil {
				e.send(protocol.TypePong, protocol.PongData{
					ID:        p.ID,
					PingTS:    p.Timestamp,
					PongTS:    time.Now().UnixMilli(),
					LatencyMs: time.Now().UnixMilli() - p.Timestamp,
				})
			}

		case protocol.TypeError:
			if d, err := msg.GetErrorData(); err == nil {
				e.log.Warn("remote engine error", "code", d.Code, "message", d.Message)
			}
		}
	}
}

func (e *Engine) Pause() error {
	if err := e.control(protocol.TypePause); err != nil {
		return err
	}
	e.paused.Store(true)
	return nil
}

func (e *Engine) Resume() error {
	if err := e.control(protocol.TypeResume); err != nil {
		return err
	}
	e.paused.Store(false)
	return nil
}

// End asks the remote to stop and closes the connection.
func (e *Engine) End() error {
	e.mu.Lock()
	conn, done := e.conn, e.done
	e.conn, e.done = nil, nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}

	if msg, err := protocol.NewControlMessage(protocol.TypeEnd); err == nil {
		e.wmu.Lock()
		writeMessage(conn, msg)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		e.wmu.Unlock()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	err := conn.Close()
	e.log.Info("remote engine ended", "points", e.points.Load())
	return err
}

func (e *Engine) ShowPredictionPoints(show bool) {
	e.updateViewer(func(v *protocol.ViewerData) { v.ShowPoints = show })
}

func (e *Engine) ShowFaceFeedbackBox(show bool) {
	e.updateViewer(func(v *protocol.ViewerData) { v.ShowFaceFeedback = show })
}

func (e *Engine) SetVideoViewerSize(w, h int) {
	e.updateViewer(func(v *protocol.ViewerData) {
		v.Width, v.Height = w, h
		v.FaceBoxRatio = e.params.Float(gaze.ParamFaceBoxRatio, 0)
	})
}

func (e *Engine) SetCameraConstraints(c camera.Constraints) gaze.Engine {
	e.mu.Lock()
	e.constraints = c
	e.mu.Unlock()
	return e
}

func (e *Engine) Params() *gaze.Params {
	return e.params
}

// Connected reports whether Begin succeeded and End has not run.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

func (e *Engine) updateViewer(fn func(v *protocol.ViewerData)) {
	e.mu.Lock()
	fn(&e.viewer)
	v := e.viewer
	connected := e.conn != nil
	e.mu.Unlock()

	if connected {
		e.send(protocol.TypeViewer, v)
	}
}

func (e *Engine) control(t protocol.MessageType) error {
	msg, err := protocol.NewControlMessage(t)
	if err != nil {
		return err
	}
	return e.write(msg)
}

func (e *Engine) send(t protocol.MessageType, data interface{}) {
	msg, err := protocol.NewMessage(t, data)
	if err != nil {
		e.log.Warn("encode failed", "type", t, "error", err)
		return
	}
	if err := e.write(msg); err != nil {
		e.log.Debug("send failed", "type", t, "error", err)
	}
}

func (e *Engine) write(msg *protocol.Message) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()
	return writeMessage(conn, msg)
}

func writeMessage(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
