package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/telemetry"
)

const (
	writeWait    = 2 * time.Second
	pingInterval = 30 * time.Second
	// DefaultBuffer is the per-connection sample queue; a client slower than
	// that misses samples.
	DefaultBuffer = 16
)

// SampleSource is the telemetry feed. *telemetry.Loop implements it.
type SampleSource interface {
	Subscribe(buffer int) (<-chan *telemetry.Sample, func())
}

// Message is one websocket frame sent to the client.
type Message struct {
	Type      string                `json:"type"`
	Sample    *telemetry.Sample     `json:"sample,omitempty"`
	Secondary []telemetry.StarPoint `json:"secondary_stars,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

// Handler streams telemetry samples to websocket clients.
type Handler struct {
	source   SampleSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a handler. checkOrigin may be nil to allow any origin.
func NewHandler(source SampleSource, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		source:   source,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// HandleConnection upgrades the request and streams samples until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	samples, cancel := h.source.Subscribe(DefaultBuffer)
	defer cancel()

	var writeMu sync.Mutex
	send := func(msg Message) error {
		msg.Timestamp = time.Now().UnixMilli()
		data, err := sonic.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(Message{Type: "system", Message: "connected"}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var in struct {
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			switch in.Type {
			case "ping":
				_ = send(Message{Type: "pong"})
			default:
				_ = send(Message{Type: "error", Message: "unknown message type"})
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case s, ok := <-samples:
			if !ok {
				return
			}
			if err := send(Message{Type: "sample", Sample: s, Secondary: s.SecondaryStars()}); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}
