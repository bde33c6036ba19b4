package http

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"

	"github.com/QHYCCD-QUARCS/guidelink/internal/guider"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/supervisor"
	"github.com/QHYCCD-QUARCS/guidelink/internal/telemetry"
)

// GuiderView is what the handlers read from the guiding service.
type GuiderView interface {
	Status() guider.Status
	Loop() *telemetry.Loop
	History() *telemetry.History
	ClearHistory()
}

// ProcessView is what the handlers read from the supervisor.
type ProcessView interface {
	IsRunning() bool
	Session() *supervisor.Session
}

// Handlers contains all HTTP handlers
type Handlers struct {
	guider  GuiderView
	process ProcessView
	metrics *monitoring.Metrics
	version string

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error
}

// NewHandlers creates a new handler set. process may be nil when the
// autoguider is not supervised by this service.
func NewHandlers(g GuiderView, process ProcessView, metrics *monitoring.Metrics, version string) *Handlers {
	return &Handlers{
		guider:  g,
		process: process,
		metrics: metrics,
		version: version,
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "guidelink",
		"version": h.version,
	})
}

// Health reports whether the autoguider link is usable. It answers 503 when
// the supervised process is down or the command breaker is open.
func (h *Handlers) Health(c *gin.Context) {
	st := h.guider.Status()

	running := h.process == nil || h.process.IsRunning()
	healthy := running && st.Breaker != "open"

	code, status := http.StatusOK, "healthy"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{
		"status":  status,
		"process": gin.H{"running": running, "supervised": h.process != nil},
		"breaker": st.Breaker,
	})
}

// Status returns the guiding session snapshot.
func (h *Handlers) Status(c *gin.Context) {
	resp := gin.H{
		"guider":  h.guider.Status(),
		"metrics": h.metrics.Snapshot(),
	}
	if h.process != nil {
		resp["process"] = gin.H{
			"running": h.process.IsRunning(),
			"session": h.process.Session(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// LatestSample returns the most recent telemetry sample without its image.
func (h *Handlers) LatestSample(c *gin.Context) {
	s := h.guider.Loop().Latest()
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sample yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sample":          s,
		"secondary_stars": s.SecondaryStars(),
	})
}

// LatestFrame returns the raw preview frame of the latest sample. Geometry
// travels in X-Frame-* headers. Clients accepting zstd get it compressed.
func (h *Handlers) LatestFrame(c *gin.Context) {
	s := h.guider.Loop().Latest()
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame yet"})
		return
	}

	c.Header("X-Frame-Id", s.ID)
	c.Header("X-Frame-Width", strconv.FormatUint(uint64(s.Width), 10))
	c.Header("X-Frame-Height", strconv.FormatUint(uint64(s.Height), 10))
	c.Header("X-Frame-Depth", strconv.Itoa(int(s.BitDepth)))
	c.Header("Cache-Control", "no-store")

	if acceptsZstd(c.GetHeader("Accept-Encoding")) {
		enc, err := h.encoder()
		if err == nil {
			c.Header("Content-Encoding", "zstd")
			c.Header("Vary", "Accept-Encoding")
			c.Data(http.StatusOK, "application/octet-stream", enc.EncodeAll(s.Image, nil))
			return
		}
	}
	c.Data(http.StatusOK, "application/octet-stream", s.Image)
}

// History returns the scatter series and its statistics.
func (h *Handlers) History(c *gin.Context) {
	hist := h.guider.History()
	c.JSON(http.StatusOK, gin.H{
		"points": hist.Points(),
		"stats":  hist.Stats(),
	})
}

// ClearHistory drops the scatter series.
func (h *Handlers) ClearHistory(c *gin.Context) {
	h.guider.ClearHistory()
	c.Status(http.StatusNoContent)
}

func (h *Handlers) encoder() (*zstd.Encoder, error) {
	h.encOnce.Do(func() {
		h.enc, h.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return h.enc, h.encErr
}

func acceptsZstd(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "zstd") {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err == nil && v > 0
	}
	return false
}
