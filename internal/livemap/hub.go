// Package livemap bridges browser map widgets to the service over
// websockets. Widgets report load, click and viewport notifications; the
// hub pushes the service-side map mutations back to every widget.
package livemap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/logger"
	"github.com/Jinksi/heatmap-example/internal/mapsync"
)

const (
	MsgLoad     = "load"
	MsgClick    = "click"
	MsgViewport = "viewport"

	MsgConfig = "config"
	MsgError  = "error"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 256
)

// Controller receives widget notifications.
type Controller interface {
	OnMapLoaded(ctx context.Context, m mapsync.Map) bool
	OnMapInteraction(p model.LngLat) error
	OnViewportChange(v model.Viewport)
}

// MapConfig is sent to each widget as it connects.
type MapConfig struct {
	AccessToken string         `json:"accessToken,omitempty"`
	StyleURL    string         `json:"style,omitempty"`
	Viewport    model.Viewport `json:"viewport"`
}

// Inbound is a notification from a widget.
type Inbound struct {
	Type     string          `json:"type"`
	LngLat   *model.LngLat   `json:"lngLat,omitempty"`
	Viewport *model.Viewport `json:"viewport,omitempty"`
}

type configMessage struct {
	Type string `json:"type"`
	MapConfig
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type Hub struct {
	m        *mapsync.LiveMap
	ctl      Controller
	cfg      MapConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func NewHub(log *slog.Logger, m *mapsync.LiveMap, ctl Controller, cfg MapConfig) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		m:      m,
		ctl:    ctl,
		cfg:    cfg,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// widgets are served from arbitrary dev origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

type client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	ctx    context.Context
	errs   chan errorMessage
	once   sync.Once
	cancel func()
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	ctx := logger.WithClientID(context.WithoutCancel(r.Context()), id)
	replay, muts, cancel := h.m.Subscribe(sendBuffer)
	c := &client{
		id:     id,
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		errs:   make(chan errorMessage, 8),
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[id] = c
	n := len(h.clients)
	h.mu.Unlock()
	observability.AddMapClients(1)
	h.logger.InfoContext(ctx, "map client connected", "clients", n)

	go c.writePump(replay, muts)
	c.readPump()
}

// Clients returns the number of connected widgets.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every widget.
func (h *Hub) Close() {
	h.mu.Lock()
	cs := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	for _, c := range cs {
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.Close()

		c.hub.mu.Lock()
		delete(c.hub.clients, c.id)
		n := len(c.hub.clients)
		c.hub.mu.Unlock()
		observability.AddMapClients(-1)
		c.hub.logger.InfoContext(c.ctx, "map client disconnected", "clients", n)
	})
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WarnContext(c.ctx, "websocket read", "err", err)
			}
			return
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reportError(fmt.Errorf("malformed message: %w", err))
			continue
		}
		if err := c.handle(msg); err != nil {
			c.reportError(err)
		}
	}
}

func (c *client) handle(msg Inbound) error {
	h := c.hub
	switch msg.Type {
	case MsgLoad:
		h.m.MarkLoaded()
		h.ctl.OnMapLoaded(c.ctx, h.m)
		return nil
	case MsgClick:
		if msg.LngLat == nil {
			return errors.New("click without lngLat")
		}
		return h.ctl.OnMapInteraction(*msg.LngLat)
	case MsgViewport:
		if msg.Viewport == nil {
			return errors.New("viewport message without viewport")
		}
		h.ctl.OnViewportChange(*msg.Viewport)
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (c *client) reportError(err error) {
	c.hub.logger.DebugContext(c.ctx, "rejected widget message", "err", err)
	select {
	case c.errs <- errorMessage{Type: MsgError, Error: err.Error()}:
	default:
	}
}

// writePump owns all writes on the connection: config first, then the
// replay of existing sources and layers, then live mutations.
func (c *client) writePump(replay []mapsync.Mutation, muts <-chan mapsync.Mutation) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	if err := c.write(configMessage{Type: MsgConfig, MapConfig: c.hub.cfg}); err != nil {
		return
	}
	for _, mt := range replay {
		if err := c.write(mt); err != nil {
			return
		}
	}

	for {
		select {
		case mt, ok := <-muts:
			if !ok {
				// dropped for falling behind, or closing
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync"),
					time.Now().Add(writeWait))
				return
			}
			if err := c.write(mt); err != nil {
				return
			}
		case em := <-c.errs:
			if err := c.write(em); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) write(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.hub.logger.DebugContext(c.ctx, "websocket write", "err", err)
		return err
	}
	return nil
}
