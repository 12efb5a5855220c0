package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// clientSendBuffer bounds how many pending snapshots a connection can
// queue before it is considered slow; further broadcasts to it are
// dropped and counted rather than blocking the whole hub.
const clientSendBuffer = 8

// maxConcurrentWriters caps how many client writePump goroutines may run at
// once, the "small worker pool services WebSocket client writes" bound from
// spec.md section 5. Connections beyond the cap still register normally;
// their writer just waits its turn for a slot, which only matters at a
// connection count far past any real dashboard deployment.
const maxConcurrentWriters = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // dashboards are same-origin or explicitly trusted
}

// controlMessage is a client->server message on the websocket. "subscribe"
// opts a freshly connected client into the broadcast stream (the default
// state); "set_window" narrows which rate window the client cares about
// for its own client-side rendering (the server still sends the full
// Snapshot — the window selection just travels along for the client to
// key off of).
type controlMessage struct {
	Type   string `json:"type"`
	Window string `json:"window,omitempty"`
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan Snapshot
	window string
	mu     sync.Mutex
}

// wsHub manages connected dashboard clients, grounded on the register/
// unregister/broadcast channel pattern used elsewhere in the corpus for
// websocket fan-out, adapted here for a single shared Snapshot payload
// instead of per-session chat-style messages.
type wsHub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	register   chan *wsClient
	unregister chan *wsClient

	droppedSlow atomic.Int64

	writerSlots *semaphore.Weighted

	done     chan struct{}
	doneOnce sync.Once
}

func newWSHub(log *zap.Logger) *wsHub {
	return &wsHub{
		log:         log,
		clients:     map[*wsClient]struct{}{},
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
		writerSlots: semaphore.NewWeighted(maxConcurrentWriters),
		done:        make(chan struct{}),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *wsHub) stop() {
	h.doneOnce.Do(func() { close(h.done) })
}

// broadcast fans snap out to every connected client. A client whose send
// buffer is already full is skipped for this tick and counted, rather than
// blocking delivery to every other client.
func (h *wsHub) broadcast(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- snap:
		default:
			h.droppedSlow.Add(1)
		}
	}
}

// DroppedSlowClients reports how many broadcast sends were skipped because
// a client's send buffer was saturated.
func (h *wsHub) DroppedSlowClients() int64 { return h.droppedSlow.Load() }

func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("metrics: websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan Snapshot, clientSendBuffer), window: "10s"}
	h.register <- client

	go h.runWritePump(client)
	h.readPump(client)
}

// runWritePump acquires a slot in the hub's bounded writer pool before
// draining the client, so an unbounded number of simultaneous slow
// connections cannot spawn an unbounded number of live writer goroutines.
func (h *wsHub) runWritePump(c *wsClient) {
	if err := h.writerSlots.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer h.writerSlots.Release(1)
	c.writePump()
}

// readPump handles control messages until the connection closes, at which
// point it unregisters the client. Runs on the request goroutine.
func (h *wsHub) readPump(c *wsClient) {
	defer func() { h.unregister <- c }()
	for {
		var msg controlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "set_window":
			if msg.Window != "" {
				c.mu.Lock()
				c.window = msg.Window
				c.mu.Unlock()
			}
		case "subscribe":
			// no-op: broadcast already includes every registered client.
		}
	}
}

// writePump drains c.send onto the websocket connection until the channel
// is closed by the hub.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for snap := range c.send {
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
