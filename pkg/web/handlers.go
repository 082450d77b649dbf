package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/calibration/sqlitestore"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// SessionView is the JSON form of a session
type SessionView struct {
	ID         string                `json:"id"`
	Status     gaze.Status           `json:"status"`
	Error      string                `json:"error,omitempty"`
	Enabled    bool                  `json:"enabled"`
	Viewport   calibration.Viewport  `json:"viewport"`
	LastGazeAt *time.Time            `json:"last_gaze_at,omitempty"`
	Point      *gaze.CalibratedPoint `json:"point,omitempty"`
	Raw        *gaze.RawPoint        `json:"raw,omitempty"`
}

func viewSession(s *gaze.Session) SessionView {
	v := SessionView{
		ID:       s.ID(),
		Status:   s.Status(),
		Error:    s.Err(),
		Enabled:  s.Enabled(),
		Viewport: s.Viewport(),
	}
	if t := s.LastGazeAt(); !t.IsZero() {
		v.LastGazeAt = &t
	}
	if p, ok := s.Calibrated(); ok {
		v.Point = &p
	}
	if r, ok := s.Raw(); ok {
		v.Raw = &r
	}
	return v
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Uptime           string             `json:"uptime"`
	CaptureSupported bool               `json:"capture_supported"`
	Permission       gaze.Permission    `json:"permission"`
	Calibrated       bool               `json:"calibrated"`
	Camera           camera.Constraints `json:"camera"`
	Gaze             gaze.ManagerStats  `json:"gaze"`
	StatusClients    int                `json:"status_clients"`
	PreviewClients   int                `json:"preview_clients"`
}

// handleStatus returns daemon state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		CaptureSupported: s.env.CaptureSupported(),
		Permission:       s.env.Permission(),
		Calibrated:       s.store.ReadModel() != nil,
		Camera:           s.cam.Get(),
		Gaze:             s.sessions.Stats(),
		StatusClients:    s.statusHub.ClientCount(),
		PreviewClients:   s.previewHub.ClientCount(),
	})
}

// PermissionRequest is the body of PUT /api/permission
type PermissionRequest struct {
	Permission string `json:"permission"`
}

// handleSetPermission records the user's tracking preference
func (s *Server) handleSetPermission(c *fiber.Ctx) error {
	var req PermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	p := gaze.ParsePermission(req.Permission)
	s.env.SetPermission(p)
	s.log.Info("permission updated", "permission", p)
	return c.JSON(fiber.Map{"permission": p})
}

// handleListSessions lists sessions in creation order
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	list := s.sessions.List()
	out := make([]SessionView, len(list))
	for i, sess := range list {
		out[i] = viewSession(sess)
	}
	return c.JSON(out)
}

// OpenRequest is the optional body of POST /api/sessions
type OpenRequest struct {
	Viewport *calibration.Viewport `json:"viewport,omitempty"`
	Enable   bool                  `json:"enable"`
}

// handleOpenSession creates a session, optionally enabling it
func (s *Server) handleOpenSession(c *fiber.Ctx) error {
	var req OpenRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}

	sess := s.sessions.Open()
	if req.Viewport != nil {
		sess.SetViewport(*req.Viewport)
	}
	if req.Enable {
		sess.Enable(c.UserContext())
	}
	return c.Status(fiber.StatusCreated).JSON(viewSession(sess))
}

func (s *Server) session(c *fiber.Ctx) (*gaze.Session, error) {
	sess, ok := s.sessions.Get(c.Params("id"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	return sess, nil
}

// handleGetSession returns one session
func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(viewSession(sess))
}

// handleCloseSession disables and forgets a session
func (s *Server) handleCloseSession(c *fiber.Ctx) error {
	if !s.sessions.Close(c.Params("id")) {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleEnable starts tracking; the outcome is in the returned status
func (s *Server) handleEnable(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	sess.Enable(c.UserContext())
	return c.JSON(viewSession(sess))
}

// handleDisable stops tracking
func (s *Server) handleDisable(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	sess.Disable()
	return c.JSON(viewSession(sess))
}

// handleViewport sets the consumer's drawable size
func (s *Server) handleViewport(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var vp calibration.Viewport
	if err := c.BodyParser(&vp); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if vp.Width < 0 || vp.Height < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "viewport must not be negative")
	}
	sess.SetViewport(vp)
	return c.JSON(viewSession(sess))
}

// handlePoint returns the latest calibrated point, or 204 if none yet
func (s *Server) handlePoint(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	p, ok := sess.Calibrated()
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(p)
}

// handleGetCalibration returns the active model
func (s *Server) handleGetCalibration(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"model": s.store.ReadModel()})
}

// handlePutCalibration stores a model and makes it active
func (s *Server) handlePutCalibration(c *fiber.Ctx) error {
	var m calibration.Model
	if err := c.BodyParser(&m); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.store.Save(c.UserContext(), &m, nil); err != nil {
		return storeError(err)
	}
	return c.JSON(fiber.Map{"model": &m})
}

// FitRequest is the body of POST /api/calibration/fit
type FitRequest struct {
	Samples  []calibration.Sample `json:"samples"`
	Viewport calibration.Viewport `json:"viewport"`
	GridSize *int                 `json:"grid_size,omitempty"`
}

// handleFit fits a model from samples, stores it and makes it active
func (s *Server) handleFit(c *fiber.Ctx) error {
	var req FitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	opts := calibration.DefaultFitOptions()
	if req.GridSize != nil {
		opts.GridSize = *req.GridSize
	}

	m, err := calibration.Fit(req.Samples, req.Viewport, opts)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	if err := s.store.Save(c.UserContext(), m, req.Samples); err != nil {
		return storeError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"model": m})
}

// handleListModels lists stored models, newest first
func (s *Server) handleListModels(c *fiber.Ctx) error {
	models, err := s.store.List(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return storeError(err)
	}
	if models == nil {
		models = []*calibration.Model{}
	}
	return c.JSON(models)
}

// handleGetModel returns a stored model and its samples
func (s *Server) handleGetModel(c *fiber.Ctx) error {
	id := c.Params("id")
	m, err := s.store.Get(c.UserContext(), id)
	if err != nil {
		return storeError(err)
	}
	samples, err := s.store.Samples(c.UserContext(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(fiber.Map{"model": m, "samples": samples})
}

// handleActivateModel makes a stored model active
func (s *Server) handleActivateModel(c *fiber.Ctx) error {
	if err := s.store.Activate(c.UserContext(), c.Params("id")); err != nil {
		return storeError(err)
	}
	return c.JSON(fiber.Map{"model": s.store.ReadModel()})
}

// handleDeleteModel removes a stored model
func (s *Server) handleDeleteModel(c *fiber.Ctx) error {
	if err := s.store.Delete(c.UserContext(), c.Params("id")); err != nil {
		return storeError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleGetCamera returns the constraints used at the next engine start
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(s.cam.Get())
}

// handlePutCamera updates constraints from a preset and/or fields
func (s *Server) handlePutCamera(c *fiber.Ctx) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.cam.Update(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.cam.Get())
}

// handleCameraPresets lists named presets
func (s *Server) handleCameraPresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

func storeError(err error) error {
	switch {
	case errors.Is(err, sqlitestore.ErrNotFound), errors.Is(err, calibration.ErrNoModel):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, calibration.ErrInvalidGrid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return err
}
