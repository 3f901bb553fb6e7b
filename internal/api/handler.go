// Package api exposes the session lifecycle over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/detector"
	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/policy"
)

// Service is the orchestrator surface the transport needs.
type Service interface {
	domain.SessionService
	Sessions() []domain.Snapshot
}

// Handler serves the HTTP API.
type Handler struct {
	svc           Service
	catalog       *policy.Catalog
	logger        *zap.Logger
	maxFrameBytes int64
	maxPixels     int
}

// DefaultMaxFramePixels caps decoded frame area (4K UHD).
const DefaultMaxFramePixels = 3840 * 2160

// Options tunes the handler.
type Options struct {
	Catalog       *policy.Catalog
	MaxFrameBytes int64
	// MaxFramePixels bounds width*height before decoding. Compressed size
	// says little about decoded size.
	MaxFramePixels int
}

// NewHandler creates a handler over svc.
func NewHandler(svc Service, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = policy.NewCatalog()
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 4 << 20
	}
	if opts.MaxFramePixels <= 0 {
		opts.MaxFramePixels = DefaultMaxFramePixels
	}
	return &Handler{
		svc:           svc,
		catalog:       opts.Catalog,
		logger:        logger,
		maxFrameBytes: opts.MaxFrameBytes,
		maxPixels:     opts.MaxFramePixels,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	v1.GET("/violation-types", h.violationTypes)

	sessions := v1.Group("/sessions")
	sessions.POST("", h.startSession)
	sessions.GET("", h.listSessions)
	sessions.GET("/:id", h.snapshot)
	sessions.POST("/:id/violations", h.logViolation)
	sessions.POST("/:id/events", h.postEvent)
	sessions.POST("/:id/frames", h.submitFrame)
	sessions.POST("/:id/samples", h.submitSample)
	sessions.POST("/:id/end", h.endSession)
	sessions.GET("/:id/report", h.getReport)
	sessions.POST("/:id/review", h.reviewSession)

	return r
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(h.svc.Sessions())})
}

type violationType struct {
	Type        domain.ViolationType `json:"type"`
	Severity    domain.Severity      `json:"severity"`
	Description string               `json:"description"`
}

func (h *Handler) violationTypes(c *gin.Context) {
	all := h.catalog.All()
	out := make([]violationType, 0, len(all))
	for _, d := range all {
		out = append(out, violationType{Type: d.Type, Severity: d.Severity, Description: d.Description})
	}
	c.JSON(http.StatusOK, out)
}

// startRequest is the wire form of domain.StartRequest.
type startRequest struct {
	SessionType string            `json:"sessionType"`
	SubjectID   string            `json:"subjectId" binding:"required"`
	Config      monitoringRequest `json:"config"`
	DeviceInfo  domain.DeviceInfo `json:"deviceInfo"`
}

type monitoringRequest struct {
	CameraEnabled           bool `json:"cameraEnabled"`
	ScreenMonitoringEnabled bool `json:"screenMonitoringEnabled"`
	AudioMonitoringEnabled  bool `json:"audioMonitoringEnabled"`
	FullscreenRequired      bool `json:"fullscreenRequired"`
	StrictMode              bool `json:"strictMode"`
	TimeLimitSeconds        int  `json:"timeLimitSeconds"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	info := req.DeviceInfo
	if info.IPAddress == "" {
		info.IPAddress = c.ClientIP()
	}
	if info.UserAgent == "" {
		info.UserAgent = c.GetHeader("User-Agent")
	}

	result, err := h.svc.StartSession(c.Request.Context(), domain.StartRequest{
		SessionType: req.SessionType,
		SubjectID:   req.SubjectID,
		Config: domain.MonitoringConfig{
			CameraEnabled:           req.Config.CameraEnabled,
			ScreenMonitoringEnabled: req.Config.ScreenMonitoringEnabled,
			AudioMonitoringEnabled:  req.Config.AudioMonitoringEnabled,
			FullscreenRequired:      req.Config.FullscreenRequired,
			StrictMode:              req.Config.StrictMode,
			TimeLimit:               time.Duration(req.Config.TimeLimitSeconds) * time.Second,
		},
		DeviceInfo: info,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Sessions())
}

func (h *Handler) snapshot(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) logViolation(c *gin.Context) {
	var in domain.ViolationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.svc.LogViolation(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) postEvent(c *gin.Context) {
	var ev domain.EnvironmentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err)
		return
	}
	if ev.Kind == "" {
		badRequest(c, errors.New("kind is required"))
		return
	}
	if ev.Kind == domain.EventProbeFinding && ev.Finding == nil {
		badRequest(c, errors.New("probe_finding requires a finding"))
		return
	}
	if err := h.svc.PostEvent(c.Request.Context(), c.Param("id"), ev); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// frameRequest carries one encoded camera frame (JPEG or PNG, base64 in JSON)
// and the analyser frequency bins captured with it.
type frameRequest struct {
	Image []byte `json:"image" binding:"required"`
	Audio []int  `json:"audio"`
}

func (h *Handler) submitFrame(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFrameBytes)

	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
			return
		}
		badRequest(c, err)
		return
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Image))
	if err != nil {
		badRequest(c, fmt.Errorf("decode image: %w", err))
		return
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > h.maxPixels/cfg.Height {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "frame dimensions too large",
			"maxPixels": h.maxPixels,
		})
		return
	}

	img, _, err := image.Decode(bytes.NewReader(req.Image))
	if err != nil {
		badRequest(c, fmt.Errorf("decode image: %w", err))
		return
	}

	err = h.svc.SubmitFrame(c.Request.Context(), c.Param("id"), detector.FromImage(img), audioBuffer(req.Audio))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func audioBuffer(bins []int) domain.AudioBuffer {
	if len(bins) == 0 {
		return nil
	}
	out := make(domain.AudioBuffer, len(bins))
	for i, v := range bins {
		out[i] = uint8(min(max(v, 0), 255))
	}
	return out
}

func (h *Handler) submitSample(c *gin.Context) {
	var sample domain.DetectorSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		badRequest(c, err)
		return
	}
	if sample.Gaze == "" {
		sample.Gaze = domain.GazeUnknown
	}
	if err := h.svc.SubmitSample(c.Request.Context(), c.Param("id"), sample); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) endSession(c *gin.Context) {
	report, err := h.svc.EndSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) getReport(c *gin.Context) {
	report, err := h.svc.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) reviewSession(c *gin.Context) {
	var review domain.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		badRequest(c, err)
		return
	}
	report, err := h.svc.ReviewSession(c.Request.Context(), c.Param("id"), review)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// fail maps service errors to HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("session_id", c.Param("id")),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	body := gin.H{"error": err.Error()}

	var setupErr *domain.SetupError
	switch {
	case errors.As(err, &setupErr):
		body["device"] = setupErr.Device
		switch {
		case errors.Is(err, domain.ErrUserCancelled):
			body["reason"] = "cancelled"
		case errors.Is(err, domain.ErrPermissionDenied):
			body["reason"] = "denied"
		}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrConfigInvalid), errors.Is(err, domain.ErrUnknownViolationType):
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrSessionNotEnded), errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrAlreadyActive):
		return http.StatusConflict, body
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}
