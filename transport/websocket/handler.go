package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Error texts sent to clients by the connection handler
const (
	invalidEventPrefix = "Invalid Client Event: "
	msgRateLimited     = "Too many requests"
)

// Options configures a Handler
type Options struct {
	// CheckOrigin overrides the upgrader's origin check. Nil allows every origin.
	CheckOrigin func(r *http.Request) bool
	// RateLimit caps inbound events per second per connection. Zero disables it.
	RateLimit rate.Limit
	// Burst is the limiter bucket size. Defaults to 1 when RateLimit is set.
	Burst int
}

// Handler upgrades HTTP requests to WebSocket sessions and pumps events
// between each socket and the dispatcher.
type Handler struct {
	clients    *session.ClientRegistry
	dispatcher *service.Dispatcher
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	opts       Options
}

// NewHandler creates a connection handler. m may be nil.
func NewHandler(clients *session.ClientRegistry, dispatcher *service.Dispatcher, logger zerolog.Logger, m *metrics.Metrics, opts Options) *Handler {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	if opts.RateLimit > 0 && opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Handler{
		clients:    clients,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "websocket").Logger(),
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		opts: opts,
	}
}

// connection is one upgraded socket
type connection struct {
	id      string
	conn    *websocket.Conn
	outbox  *Outbox
	handler *Handler
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// ServeWS serves one connection for the caller-chosen client id and returns
// when the connection ends.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request, id string) {
	log := h.logger.With().Str("client_id", id).Logger()

	if id == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}
	if h.clients.Has(id) {
		log.Warn().Msg("rejecting duplicate client id")
		http.Error(w, "client id already connected", http.StatusConflict)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &connection{
		id:      id,
		conn:    conn,
		outbox:  NewOutbox(),
		handler: h,
		logger:  log,
	}
	if h.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(h.opts.RateLimit, h.opts.Burst)
	}

	// Another request with the same id may have won the race since Has.
	if err := h.clients.Insert(&service.Client{ID: id, Outbox: c.outbox}); err != nil {
		log.Warn().Err(err).Msg("client id taken after upgrade")
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client id already connected")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.metrics.ConnectionOpened()
	log.Info().Msg("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.deliver(log, h.dispatcher.Connect(ctx, id))

	go c.writePump()
	c.readPump(ctx)
}

// deliver queues every outbound event on its target's outbox
func (h *Handler) deliver(log zerolog.Logger, out []service.Outbound) {
	for _, o := range out {
		if err := h.clients.Send(o.Target, o.Event); err != nil {
			log.Debug().Err(err).Str("target", o.Target).Str("event", string(o.Event.Kind)).Msg("dropping event for unreachable client")
		}
	}
}

// readPump decodes inbound frames and dispatches them until the socket closes
func (c *connection) readPump(ctx context.Context) {
	h := c.handler
	defer func() {
		h.dispatcher.Disconnect(ctx, c.id)
		h.metrics.ConnectionClosed()
		c.conn.Close()
		c.logger.Info().Msg("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		if msgType != websocket.TextMessage {
			c.logger.Warn().Int("message_type", msgType).Msg("ignoring non-text frame")
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			h.metrics.ErrorOccurred(metrics.KindProtocol)
			h.deliver(c.logger, []service.Outbound{{Target: c.id, Event: service.ErrorEvent(msgRateLimited)}})
			continue
		}

		ev, err := service.DecodeClientEvent(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("invalid client event")
			h.metrics.ErrorOccurred(metrics.KindProtocol)
			h.deliver(c.logger, []service.Outbound{{
				Target: c.id,
				Event:  service.ErrorEvent(invalidEventPrefix + string(data)),
			}})
			continue
		}

		h.deliver(c.logger, h.dispatcher.Dispatch(ctx, c.id, ev))
	}
}

// writePump writes queued messages, one text frame each, and keeps the
// connection alive with pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.outbox.Ready():
			if !c.flush() {
				return
			}

		case <-c.outbox.Done():
			// messages accepted before Close still go out
			if !c.flush() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes every queued message as its own text frame. It reports false
// once a write fails.
func (c *connection) flush() bool {
	for _, msg := range c.outbox.Drain() {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug().Err(err).Msg("websocket write failed")
			return false
		}
	}
	return true
}
