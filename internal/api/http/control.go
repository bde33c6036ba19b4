package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/QHYCCD-QUARCS/guidelink/internal/guider"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// Controller is the guiding workflow driven by the control routes.
// *guider.Service implements it.
type Controller interface {
	ToggleGuiding() (bool, error)
	ToggleLooping() (bool, error)
	Recalibrate(ctx context.Context) error
	RequestCalibrationClear()
	SetExposure(ms uint32) error
	ClickCanvas(canvasW, canvasH, x, y int) error
	SelectCamera(name string) error
	SetFocalLength(mm int32) error
	SetMultiStar(enabled bool) error
	SetPixelSize(um float64) error
	SetGain(gain int32) error
	SetCalibrationStep(ms int32) error
	SetRaAggression(percent int32) error
	SetDecAggression(percent int32) error
	SetMeridianFlip(enabled bool)
	ClearStarLostAlert()
}

// ControlHandlers turns front-end requests into guiding commands.
type ControlHandlers struct {
	ctrl Controller
}

// NewControlHandlers creates the control handler set.
func NewControlHandlers(ctrl Controller) *ControlHandlers {
	return &ControlHandlers{ctrl: ctrl}
}

// ExposureRequest sets the guide exposure.
type ExposureRequest struct {
	Milliseconds uint32 `json:"ms" binding:"required"`
}

// ClickRequest is a click on the preview canvas, in canvas pixels.
type ClickRequest struct {
	CanvasWidth  int `json:"canvas_width" binding:"required"`
	CanvasHeight int `json:"canvas_height" binding:"required"`
	X            int `json:"x"`
	Y            int `json:"y"`
}

// CameraRequest selects the guide camera.
type CameraRequest struct {
	Name string `json:"name" binding:"required"`
}

// SettingsRequest carries the guiding parameters to change. Absent fields
// are left alone.
type SettingsRequest struct {
	FocalLength     *int32   `json:"focal_length,omitempty"`
	MultiStar       *bool    `json:"multi_star,omitempty"`
	PixelSize       *float64 `json:"pixel_size,omitempty"`
	Gain            *int32   `json:"gain,omitempty"`
	CalibrationStep *int32   `json:"calibration_step,omitempty"`
	RaAggression    *int32   `json:"ra_aggression,omitempty"`
	DecAggression   *int32   `json:"dec_aggression,omitempty"`
}

// FlipRequest enables or disables the meridian flip.
type FlipRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleGuiding starts or stops guiding.
func (h *ControlHandlers) ToggleGuiding(c *gin.Context) {
	guiding, err := h.ctrl.ToggleGuiding()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guiding": guiding})
}

// ToggleLooping starts or stops exposures.
func (h *ControlHandlers) ToggleLooping(c *gin.Context) {
	looping, err := h.ctrl.ToggleLooping()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"looping": looping})
}

// Recalibrate runs the recalibration sequence. It answers once guiding has
// been restarted.
func (h *ControlHandlers) Recalibrate(c *gin.Context) {
	if err := h.ctrl.Recalibrate(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guiding": true})
}

// ClearCalibration defers a calibration reset to the next guiding start.
func (h *ControlHandlers) ClearCalibration(c *gin.Context) {
	h.ctrl.RequestCalibrationClear()
	c.Status(http.StatusAccepted)
}

// SetExposure sets the guide exposure.
func (h *ControlHandlers) SetExposure(c *gin.Context) {
	var req ExposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.SetExposure(req.Milliseconds); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Click selects the star under a canvas click.
func (h *ControlHandlers) Click(c *gin.Context) {
	var req ClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.ClickCanvas(req.CanvasWidth, req.CanvasHeight, req.X, req.Y); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectCamera selects the guide camera by name.
func (h *ControlHandlers) SelectCamera(c *gin.Context) {
	var req CameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.SelectCamera(req.Name); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateSettings sends one command per field present, in a fixed order,
// and stops at the first failure. The response lists what was applied.
func (h *ControlHandlers) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var steps []setting
	if req.FocalLength != nil {
		v := *req.FocalLength
		steps = append(steps, setting{"focal_length", func() error { return h.ctrl.SetFocalLength(v) }})
	}
	if req.MultiStar != nil {
		v := *req.MultiStar
		steps = append(steps, setting{"multi_star", func() error { return h.ctrl.SetMultiStar(v) }})
	}
	if req.PixelSize != nil {
		v := *req.PixelSize
		steps = append(steps, setting{"pixel_size", func() error { return h.ctrl.SetPixelSize(v) }})
	}
	if req.Gain != nil {
		v := *req.Gain
		steps = append(steps, setting{"gain", func() error { return h.ctrl.SetGain(v) }})
	}
	if req.CalibrationStep != nil {
		v := *req.CalibrationStep
		steps = append(steps, setting{"calibration_step", func() error { return h.ctrl.SetCalibrationStep(v) }})
	}
	if req.RaAggression != nil {
		v := *req.RaAggression
		steps = append(steps, setting{"ra_aggression", func() error { return h.ctrl.SetRaAggression(v) }})
	}
	if req.DecAggression != nil {
		v := *req.DecAggression
		steps = append(steps, setting{"dec_aggression", func() error { return h.ctrl.SetDecAggression(v) }})
	}
	if len(steps) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings given"})
		return
	}

	applied := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := step.apply(); err != nil {
			c.JSON(statusFor(err), gin.H{
				"error":   fmt.Sprintf("%s: %v", step.name, err),
				"applied": applied,
			})
			return
		}
		applied = append(applied, step.name)
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

type setting struct {
	name  string
	apply func() error
}

// SetMeridianFlip swaps north and south pulses while enabled.
func (h *ControlHandlers) SetMeridianFlip(c *gin.Context) {
	var req FlipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.ctrl.SetMeridianFlip(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"meridian_flip": req.Enabled})
}

// ClearStarLostAlert acknowledges the star-lost alert.
func (h *ControlHandlers) ClearStarLostAlert(c *gin.Context) {
	h.ctrl.ClearStarLostAlert()
	c.Status(http.StatusNoContent)
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrProcessUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, guider.ErrInvalidCanvas):
		return http.StatusBadRequest
	case errors.Is(err, guider.ErrNoFrame):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
