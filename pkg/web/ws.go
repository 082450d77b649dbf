package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/hub"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

// requireSession rejects upgrades for unknown sessions before the handshake
func (s *Server) requireSession(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	c.Locals("session", sess)
	return c.Next()
}

// handleGazeWS pushes a session's latest point on every render tick that
// has something new, and its status whenever it changes
func (s *Server) handleGazeWS(c *websocket.Conn) {
	sess, ok := c.Locals("session").(*gaze.Session)
	if !ok {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.RenderInterval)
	defer ticker.Stop()

	var lastSeq uint64
	var lastStatus gaze.Status
	var lastErr string
	for {
		select {
		case <-closed:
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if st, e := sess.Status(), sess.Err(); st != lastStatus || e != lastErr {
			lastStatus, lastErr = st, e
			msg, _ := protocol.NewStatusMessage(sess.ID(), string(st), e)
			if !s.writeWS(c, msg) {
				return
			}
		}

		seq := sess.CalibratedSeq()
		if seq == lastSeq {
			continue
		}
		lastSeq = seq

		p, ok := sess.Calibrated()
		if !ok {
			continue
		}
		raw, _ := sess.Raw()
		msg, _ := protocol.NewPointMessage(protocol.PointData{
			Session:    sess.ID(),
			X:          p.X,
			Y:          p.Y,
			RawX:       raw.X,
			RawY:       raw.Y,
			Confidence: p.Confidence,
			T:          p.TimestampMs,
			Source:     string(p.Source),
		})
		if !s.writeWS(c, msg) {
			return
		}
	}
}

func (s *Server) writeWS(c *websocket.Conn, msg *protocol.Message) bool {
	data, err := msg.Bytes()
	if err != nil {
		return true
	}
	c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.WriteMessage(websocket.TextMessage, data) == nil
}

// handleStatusWS streams status changes for every session
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)

	// Start with a snapshot so late joiners know the current state
	for _, sess := range s.sessions.List() {
		msg, err := protocol.NewStatusMessage(sess.ID(), string(sess.Status()), sess.Err())
		if err != nil {
			continue
		}
		if data, err := msg.Bytes(); err == nil {
			client.Send(hub.NewJSONMessage(data))
		}
	}

	client.Run()
}

// handlePreviewWS streams annotated JPEG frames
func (s *Server) handlePreviewWS(c *websocket.Conn) {
	client := hub.NewClient(s.previewHub, c)
	client.Run()
}
