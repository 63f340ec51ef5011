// Package ws streams system events from the bus to dashboard websocket
// clients. Clients may narrow the stream to a set of symbols.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Frame types sent to clients.
const (
	frameEvent      = "event"
	frameStatus     = "status"
	frameSubscribed = "subscribed"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Symbols []string        `json:"symbols,omitempty"`
}

// filterMsg changes the symbols a client receives. An empty set means all.
type filterMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// Config configures a Hub.
type Config struct {
	Mode      string
	Channels  []string
	StartedAt time.Time
	// AllowedOrigins restricts browser origins; empty or "*" allows all.
	AllowedOrigins []string
	// StatusInterval pushes Status to every client; zero sends it on
	// connect only.
	StatusInterval time.Duration
	Status         func() any
}

// Hub owns the client set. Only the Run goroutine touches clients, their
// filters and their send channels' lifetime.
type Hub struct {
	cfg      Config
	bus      domain.EventBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	clients    map[*client]struct{}
	events     chan []byte
	register   chan *client
	unregister chan *client
	filters    chan filterReq
	done       chan struct{}
}

type filterReq struct {
	c   *client
	msg filterMsg
}

func NewHub(bus domain.EventBus, cfg Config, logger *slog.Logger) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		cfg:        cfg,
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]struct{}),
		events:     make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		filters:    make(chan filterReq),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin")) },
	}
	return h
}

// originAllowed admits requests without an Origin header; only browsers
// send one.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	return slices.Contains(allowed, strings.TrimSuffix(origin, "/"))
}

// Run forwards bus events to clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range h.cfg.Channels {
		go h.pump(ctx, ch)
	}

	var tick <-chan time.Time
	if h.cfg.StatusInterval > 0 {
		t := time.NewTicker(h.cfg.StatusInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return ctx.Err()
		case c := <-h.register:
			h.clients[c] = struct{}{}
			c.offer(h.statusFrame())
			h.logger.Debug("client connected", slog.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			h.logger.Debug("client disconnected", slog.Int("clients", len(h.clients)))
		case req := <-h.filters:
			if _, ok := h.clients[req.c]; ok {
				ack, _ := json.Marshal(frame{Type: frameSubscribed, Symbols: req.c.applyFilter(req.msg)})
				req.c.offer(ack)
			}
		case raw := <-h.events:
			h.broadcast(raw)
		case <-tick:
			if msg := h.statusFrame(); msg != nil {
				for c := range h.clients {
					c.offer(msg)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) broadcast(raw []byte) {
	var head struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		h.logger.Warn("dropping non-JSON event", slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(frame{Type: frameEvent, Payload: raw})
	if err != nil {
		return
	}
	for c := range h.clients {
		if !c.wants(head.Symbol) {
			continue
		}
		if !c.offer(msg) {
			h.logger.Warn("client send buffer full, dropping event")
		}
	}
}

func (h *Hub) statusFrame() []byte {
	status := map[string]any{
		"mode":           h.cfg.Mode,
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
	}
	if h.cfg.Status != nil {
		status["status"] = h.cfg.Status()
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return nil
	}
	msg, _ := json.Marshal(frame{Type: frameStatus, Payload: raw})
	return msg
}

// pump copies one bus channel into the hub until ctx ends or the
// subscription closes.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.events <- raw:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the connection. New clients receive every symbol.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		symbols: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]bool
}

// offer queues msg without blocking. It reports false when the buffer is
// full.
func (c *client) offer(msg []byte) bool {
	if msg == nil {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// wants reports whether an event for symbol passes the client's filter.
// Events without a symbol always pass.
func (c *client) wants(symbol string) bool {
	return symbol == "" || len(c.symbols) == 0 || c.symbols[symbol]
}

func (c *client) applyFilter(msg filterMsg) []string {
	for _, s := range msg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.symbols[s] = true
		case "unsubscribe":
			delete(c.symbols, s)
		}
	}
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
			continue
		}
		select {
		case c.hub.filters <- filterReq{c: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
