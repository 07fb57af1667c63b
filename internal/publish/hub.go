package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tuner/internal/observe"
)

// Hub defaults.
const (
	defaultClientBuffer = 16
	defaultWriteTimeout = 5 * time.Second
)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithClientBuffer sets how many events may be pending per client before the
// client is considered too slow and disconnected.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

// WithOriginPatterns sets the host patterns allowed to connect cross-origin.
// See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.originPatterns = patterns }
}

// WithHubMetrics sets the metrics used to count dropped clients.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// Hub broadcasts events as JSON text messages to connected WebSocket clients.
// It is both a [Sink] and the [http.Handler] clients connect to. A newly
// connected client first receives the most recent event of the running
// session, if any. A [KindStopped] event for that session clears it.
//
// A client whose send buffer is full is disconnected with
// [websocket.StatusPolicyViolation]; the broadcast never blocks on a client.
type Hub struct {
	clientBuffer   int
	originPatterns []string
	metrics        *observe.Metrics
	log            *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	last    []byte
	lastID  string
	closed  bool
}

type hubClient struct {
	conn     *websocket.Conn
	send     chan []byte
	kickOnce sync.Once
}

// kick closes the connection from outside the client's own goroutine.
func (c *hubClient) kick(code websocket.StatusCode, reason string) {
	c.kickOnce.Do(func() {
		go func() { _ = c.conn.Close(code, reason) }()
	})
}

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clientBuffer: defaultClientBuffer,
		log:          slog.Default(),
		clients:      make(map[*hubClient]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish implements [Sink]. Events that cannot be encoded are logged and
// skipped.
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error("publish: encode event", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// A late stop of an earlier session leaves a newer snapshot in place.
	switch {
	case e.Kind != KindStopped:
		h.last, h.lastID = data, e.SessionID
	case e.SessionID == h.lastID:
		h.last, h.lastID = nil, ""
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			h.metrics.RecordPublishDropped(context.Background(), "websocket")
			h.log.Warn("publish: websocket client too slow, disconnecting")
			c.kick(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client disconnects, the request context ends, or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn("publish: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	c := &hubClient{conn: conn, send: make(chan []byte, h.clientBuffer)}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	h.log.Debug("publish: websocket client connected", "remote", r.RemoteAddr)

	for {
		select {
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("publish: websocket write failed", "err", err, "remote", r.RemoteAddr)
				return
			}
		case <-ctx.Done():
			h.log.Debug("publish: websocket client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

// Close disconnects all clients with [websocket.StatusGoingAway] and rejects
// new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.kick(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

var (
	_ Sink         = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)
