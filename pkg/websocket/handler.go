package websocket

import (
	"net/http"
	"strings"
	"time"

	"bloodsos/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type HandlerConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	SendBufferSize    int
	EnableCompression bool
	AllowedOrigins    []string
	// PrivilegedRoles may join any room and stream for any donor.
	PrivilegedRoles []string
}

type Handler struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	cfg        HandlerConfig
	onLocation LocationSink
	log        *logger.Logger
}

func NewHandler(hub *Hub, cfg HandlerConfig, onLocation LocationSink, log *logger.Logger) *Handler {
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = (cfg.PongTimeout * 9) / 10
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin:       originChecker(cfg.AllowedOrigins),
		},
		cfg:        cfg,
		onLocation: onLocation,
		log:        log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket upgrades the request. Room membership is decided later by
// join_hospital messages, not by the handshake.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, h.cfg.SendBufferSize, h.onLocation, h.log)
	client.timing = pumpTiming{pingInterval: h.cfg.PingInterval, pongTimeout: h.cfg.PongTimeout}
	if userID, ok := c.Get("user_id"); ok {
		client.UserID, _ = userID.(string)
	}
	if userType, ok := c.Get("user_type"); ok {
		for _, role := range h.cfg.PrivilegedRoles {
			if userType == role {
				client.privileged = true
			}
		}
	}

	h.log.WithFields(map[string]interface{}{
		"client_id": client.ID(),
		"user_id":   client.UserID,
	}).Debug("WebSocket client connected")

	go client.writePump()
	go client.readPump()
}

func (h *Handler) Hub() *Hub {
	return h.hub
}
