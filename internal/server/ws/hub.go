// Package ws streams market events to browser and bot clients over
// websockets. Each connection follows a set of market IDs, or every market.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxControlSize = 4096
	sendQueue      = 256

	// anyMarket subscribes a connection to every market.
	anyMarket = "*"
	// marketPattern matches every per-market bus channel.
	marketPattern = "market:*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware in front of the hub.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config is reported to clients in the hello frame.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub relays market events from the signal bus to the connections that
// follow the event's market.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	cfg    Config

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:    bus,
		logger: logger.With(slog.String("component", "ws_hub")),
		cfg:    cfg,
		conns:  make(map[*conn]struct{}),
	}
}

// Run relays bus events until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	events, err := h.bus.Subscribe(ctx, marketPattern)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", marketPattern, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: market event subscription closed")
				return nil
			}
			h.route(data)
		}
	}
}

func (h *Hub) route(data []byte) {
	var ev struct {
		MarketID string `json:"marketId"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.MarketID == "" {
		h.logger.Debug("ws: skipping event without market")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if !c.follows(ev.MarketID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: send queue full, dropping event",
				slog.String("market_id", ev.MarketID),
			)
		}
	}
}

func (h *Hub) add(c *conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	return len(h.conns)
}

// remove closes c's queue exactly once; closeAll may race with a reader
// hanging up.
func (h *Hub) remove(c *conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	return len(h.conns)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
	}
}

// HandleWS upgrades GET /ws. The optional "markets" query parameter is a
// comma-separated list of market IDs to follow; without it the connection
// follows every market.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{hub: h, ws: ws, send: make(chan []byte, sendQueue), markets: map[string]bool{}}
	ids := splitIDs(r.URL.Query().Get("markets"))
	if len(ids) == 0 {
		ids = []string{anyMarket}
	}
	c.set(true, ids)
	c.hello()

	h.logger.Info("ws: client connected", slog.Int("clients", h.add(c)))
	go c.writeLoop()
	go c.readLoop()
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// control is a client request to change what it follows:
// {"action":"subscribe","markets":["<id>"]}. "*" means every market.
type control struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
}

type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	markets map[string]bool
}

func (c *conn) follows(marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markets[anyMarket] || c.markets[marketID]
}

func (c *conn) set(on bool, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if on {
			c.markets[id] = true
		} else {
			delete(c.markets, id)
		}
	}
}

// hello is queued before the connection is added to the hub, so it is
// always the first frame.
func (c *conn) hello() {
	c.mu.RLock()
	following := make([]string, 0, len(c.markets))
	for id := range c.markets {
		following = append(following, id)
	}
	c.mu.RUnlock()

	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"data": map[string]any{
			"mode":           c.hub.cfg.Mode,
			"uptime_seconds": max(int64(time.Since(c.hub.cfg.StartedAt).Seconds()), 0),
			"markets":        following,
		},
	})
	if err == nil {
		c.send <- msg
	}
}

func (c *conn) readLoop() {
	defer func() {
		c.hub.logger.Info("ws: client disconnected", slog.Int("clients", c.hub.remove(c)))
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxControlSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var ctl control
		if json.Unmarshal(raw, &ctl) != nil {
			continue
		}
		switch ctl.Action {
		case "subscribe":
			c.set(true, ctl.Markets)
		case "unsubscribe":
			c.set(false, ctl.Markets)
		}
	}
}

func (c *conn) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
