// Package ws relays auction events to websocket observers. Clients subscribe
// to "auction:{id}" channels and receive every event published for that
// auction, as JSON text frames or, with ?encoding=proto, as binary
// google.protobuf.Struct frames.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// auctionPattern is the bus pattern the hub listens on.
	auctionPattern = "auction:*"
)

// Watcher maintains the watching count and serves snapshots for newly
// subscribed clients.
type Watcher interface {
	Get(ctx context.Context, id string) (domain.Auction, error)
	Watch(ctx context.Context, id string) error
	Unwatch(ctx context.Context, id string) error
}

type encoding int

const (
	encodingJSON encoding = iota
	encodingProto
)

// frame is one outgoing message before encoding.
type frame struct {
	raw  []byte         // JSON form
	body map[string]any // decoded form, for proto clients
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	enc  encoding
	send chan frame
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"`   // "subscribe" or "unsubscribe"
	Channel  string   `json:"channel"`
	Channels []string `json:"channels"`
}

func (m subscribeMsg) channels() []string {
	out := append([]string(nil), m.Channels...)
	if m.Channel != "" {
		out = append(out, m.Channel)
	}
	return out
}

// Hub fans auction events from the SignalBus out to subscribed clients.
type Hub struct {
	clients map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	bus      domain.SignalBus
	watcher  Watcher
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewHub creates a hub. allowedOrigins restricts the websocket handshake;
// an empty list allows any origin.
func NewHub(bus domain.SignalBus, watcher Watcher, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		watcher:    watcher,
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run subscribes to auction events and runs the hub loop until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, auctionPattern)
	if err != nil {
		return err
	}
	go h.forward(ctx, events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			c.unwatchAll()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case f := <-h.broadcast:
			channel := domain.AuctionChannel(stringField(f.body, "auction_id"))
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(channel) {
					continue
				}
				select {
				case c.send <- f:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("channel", channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes bus payloads and hands them to the hub loop.
func (h *Hub) forward(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			var body map[string]any
			if err := json.Unmarshal(data, &body); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- frame{raw: data, body: body}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws[?encoding=proto]
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan frame, sendBufferSize),
		subs: make(map[string]bool),
	}
	if r.URL.Query().Get("encoding") == "proto" {
		c.enc = encodingProto
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump handles subscription requests until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			c.reply(map[string]any{"type": "error", "error": "invalid message"})
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription applies a subscribe or unsubscribe request. Only
// auction channels are accepted; each new subscription counts as a watcher
// and is answered with the auction's current snapshot.
func (c *client) handleSubscription(msg subscribeMsg) {
	ctx := context.Background()
	for _, ch := range msg.channels() {
		id, ok := strings.CutPrefix(ch, "auction:")
		if !ok || id == "" || strings.ContainsAny(id, "*?[") {
			c.reply(map[string]any{"type": "error", "error": "unknown channel", "channel": ch})
			continue
		}
		switch msg.Action {
		case "subscribe":
			a, err := c.hub.watcher.Get(ctx, id)
			if err != nil {
				c.reply(map[string]any{"type": "error", "error": "auction not found", "channel": ch})
				continue
			}
			if !c.setSub(ch, true) {
				continue
			}
			if err := c.hub.watcher.Watch(ctx, id); err != nil {
				c.hub.logger.Warn("ws: watch failed", slog.String("auction_id", id), slog.String("error", err.Error()))
			}
			c.reply(map[string]any{"type": "snapshot", "channel": ch, "auction": a})
		case "unsubscribe":
			if c.setSub(ch, false) {
				if err := c.hub.watcher.Unwatch(ctx, id); err != nil {
					c.hub.logger.Warn("ws: unwatch failed", slog.String("auction_id", id), slog.String("error", err.Error()))
				}
			}
		default:
			c.reply(map[string]any{"type": "error", "error": "unknown action"})
			return
		}
	}
}

// setSub changes one subscription and reports whether it changed.
func (c *client) setSub(ch string, on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[ch] == on {
		return false
	}
	if on {
		c.subs[ch] = true
	} else {
		delete(c.subs, ch)
	}
	return true
}

func (c *client) unwatchAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]bool)
	c.mu.Unlock()
	for ch := range subs {
		id := strings.TrimPrefix(ch, "auction:")
		if err := c.hub.watcher.Unwatch(context.Background(), id); err != nil {
			c.hub.logger.Warn("ws: unwatch failed", slog.String("auction_id", id), slog.String("error", err.Error()))
		}
	}
}

// reply queues a message for this client only. Values go through a JSON
// round trip so proto clients receive the same field names.
func (c *client) reply(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return
	}
	defer func() {
		// The hub may already have closed send on shutdown.
		_ = recover()
	}()
	select {
	case c.send <- frame{raw: raw, body: body}:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump writes queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msgType, data, err := c.encode(f)
			if err != nil {
				c.hub.logger.Warn("ws: encode frame failed", slog.String("error", err.Error()))
				continue
			}
			if err := c.conn.WriteMessage(msgType, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) encode(f frame) (int, []byte, error) {
	if c.enc == encodingJSON {
		return websocket.TextMessage, f.raw, nil
	}
	s, err := structpb.NewStruct(f.body)
	if err != nil {
		return 0, nil, err
	}
	data, err := proto.Marshal(s)
	return websocket.BinaryMessage, data, err
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
