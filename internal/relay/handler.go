package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	idleTimeout  = 5 * time.Minute
	writeTimeout = 10 * time.Second
)

// wsPeer wraps a websocket connection with a write mutex so concurrent
// deliveries never interleave frames.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) WriteFrame(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(f)
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}

// Handler exposes the relay over a WebSocket endpoint.
type Handler struct {
	relay  *Relay
	logger *slog.Logger
}

// NewHandler constructs the WebSocket transport handler.
func NewHandler(relay *Relay, logger *slog.Logger) *Handler {
	return &Handler{relay: relay, logger: logger}
}

// Upgrade gates the route to WebSocket upgrade requests.
func (h *Handler) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Socket runs one connection's read loop. Transport close or the idle
// timeout tears the connection down through a single Leave.
func (h *Handler) Socket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		connectionID := uuid.NewString()
		peer := &wsPeer{conn: conn}
		defer h.relay.Leave(connectionID)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				h.logger.Debug("connection closed", "connection_id", connectionID, "error", err)
				return
			}

			switch f.Event {
			case EventJoinRoom:
				if err := h.relay.Join(connectionID, f.Nickname, peer); err != nil {
					_ = peer.WriteFrame(Frame{Event: EventError, Error: err.Error()})
				}
			case EventSendMessage:
				if _, err := h.relay.Send(connectionID, f.To, f.Message); err != nil {
					_ = peer.WriteFrame(Frame{Event: EventError, Error: err.Error()})
				}
			default:
				_ = peer.WriteFrame(Frame{Event: EventError, Error: "unknown event"})
			}
		}
	})
}
