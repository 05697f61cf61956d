package http

import (
	"context"
	"encoding/json"
	"time"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/eventbus"
	"plural-api/internal/shared/logger"
	"plural-api/internal/shared/utils"
	"plural-api/internal/socket/domain/repository"
	"plural-api/internal/socket/usecase"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Inbound operations
const (
	OpAuthenticate = "authenticate"
	OpPing         = "ping"
)

const (
	authSuccessMessage = "Successfully authenticated"
	authFailureMessage = "Authentication violation: Token is missing or invalid. Goodbye :)"
)

var (
	handshakeFrame = []byte("{}")
	pongFrame      = []byte(`{"msg":"pong"}`)
)

// InboundFrame is a message sent by a client.
type InboundFrame struct {
	Op    string `json:"op"`
	Token string `json:"token,omitempty"`
}

// AuthResponse answers an authenticate frame.
type AuthResponse struct {
	Msg        string `json:"msg"`
	Resolution bool   `json:"resolution"`
}

// HandlerConfig holds socket endpoint settings.
type HandlerConfig struct {
	Path         string
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
}

// WebSocketHandler accepts realtime socket connections.
type WebSocketHandler struct {
	registry      *usecase.ConnectionRegistry
	authenticator repository.Authenticator
	events        eventbus.Publisher
	cfg           HandlerConfig
	log           logger.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler. events may be nil.
func NewWebSocketHandler(
	registry *usecase.ConnectionRegistry,
	authenticator repository.Authenticator,
	events eventbus.Publisher,
	cfg HandlerConfig,
	log logger.Logger,
) *WebSocketHandler {
	if cfg.Path == "" {
		cfg.Path = "/v1/socket"
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WebSocketHandler{
		registry:      registry,
		authenticator: authenticator,
		events:        events,
		cfg:           cfg,
		log:           log.WithComponent("socket"),
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(router fiber.Router) {
	// Middleware to ensure it's a WebSocket upgrade request
	router.Use(h.cfg.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get(h.cfg.Path, websocket.New(h.handleConnection))
}

// handleConnection owns one socket from accept to close.
func (h *WebSocketHandler) handleConnection(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := usecase.NewConnection(newWSTransport(c, h.cfg.WriteTimeout))
	id := h.registry.Register(conn)
	ctx = utils.WithConnectionID(ctx, id)
	log := h.log.WithContext(ctx)

	log.Debug("Socket connected", zap.String("remote", c.RemoteAddr().String()))
	h.publish(eventbus.EventTypeSocketConnected, id, "")

	// Close waits for writers and the auth timer's close, so nothing touches
	// the websocket after this function returns it to the pool.
	defer func() {
		h.registry.Unregister(id)
		_ = conn.Close()
		log.Debug("Socket closed", zap.String("user_id", conn.UserID()))
		h.publish(eventbus.EventTypeSocketClosed, id, conn.UserID())
	}()

	if err := conn.SendRaw(ctx, handshakeFrame); err != nil {
		log.Debug("Handshake failed", zap.Error(err))
		return
	}

	authTimer := time.AfterFunc(h.cfg.AuthTimeout, func() {
		if !conn.IsAuthenticated() {
			log.Debug("Closing socket that did not authenticate in time")
			_ = conn.Close()
		}
	})
	defer authTimer.Stop()

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("Socket read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !h.handleFrame(ctx, conn, data, log) {
			return
		}
	}
}

// handleFrame processes one inbound frame and reports whether the connection
// stays open.
func (h *WebSocketHandler) handleFrame(ctx context.Context, conn *usecase.Connection, data []byte, log logger.Logger) bool {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Debug("Ignoring malformed frame", zap.Error(err))
		return true
	}

	switch frame.Op {
	case OpAuthenticate:
		return h.authenticate(ctx, conn, frame.Token, log)
	case OpPing:
		return conn.SendRaw(ctx, pongFrame) == nil
	default:
		log.Debug("Ignoring unknown frame", zap.String("op", frame.Op))
		return true
	}
}

func (h *WebSocketHandler) authenticate(ctx context.Context, conn *usecase.Connection, token string, log logger.Logger) bool {
	if conn.IsAuthenticated() {
		log.Debug("Ignoring repeated authentication", zap.String("user_id", conn.UserID()))
		return true
	}

	uid, err := h.authenticator.Authenticate(ctx, token)
	if err == nil {
		err = h.registry.Bind(conn.ID(), uid)
	}
	if err != nil {
		if apperrors.IsAuthentication(err) {
			log.Debug("Socket authentication rejected", zap.Error(err))
		} else {
			log.Warn("Socket authentication failed", zap.Error(err))
		}
		_ = conn.Send(ctx, AuthResponse{Msg: authFailureMessage, Resolution: false})
		return false
	}

	h.publish(eventbus.EventTypeSocketAuthenticated, conn.ID(), uid)
	return conn.Send(ctx, AuthResponse{Msg: authSuccessMessage, Resolution: true}) == nil
}

// publish emits a lifecycle event. Delivery outlives the connection so it does
// not use the connection context.
func (h *WebSocketHandler) publish(eventType, connectionID, userID string) {
	if h.events == nil {
		return
	}
	h.events.PublishAndForget(context.Background(), eventbus.NewBasicEventWithSource(eventType, eventbus.ConnectionLifecycle{
		ConnectionID: connectionID,
		UserID:       userID,
	}, "socket"))
}

// Kind implements model.OutboundMessage.
func (AuthResponse) Kind() string { return "authentication" }
