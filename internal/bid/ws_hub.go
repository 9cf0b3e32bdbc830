// WebSocket hub for real-time leaderboard fan-out.
//
// Unlike a broadcast-to-all hub, subscriptions are per event: a client
// subscribes to the events it is watching and receives a full snapshot
// followed by versioned deltas for those events only. Delivery is
// best-effort; a client that detects a version gap self-heals through the
// poll endpoint, which shares the same delta contract.

package bid

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crowdmix/bid-engine/internal/board"
	"github.com/crowdmix/bid-engine/internal/metrics"
	"github.com/crowdmix/bid-engine/internal/model"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is the heartbeat window: a connection with no pong inside
	// it is treated as disconnected and its subscriptions are released.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = 30 * time.Second

	// sendBuffer is the per-client outbound queue. When it fills, changes
	// are dropped for that client; the version gap triggers a resync.
	sendBuffer = 64
)

// wsCommand is a client→server control message.
type wsCommand struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	EventID string `json:"event_id"`
}

// wsMessage is a server→client message.
type wsMessage struct {
	Type     string                     `json:"type"` // snapshot, change, error
	EventID  string                     `json:"event_id,omitempty"`
	Version  uint64                     `json:"version,omitempty"`
	Snapshot *model.LeaderboardSnapshot `json:"snapshot,omitempty"`
	Change   *model.SongEntryChange     `json:"change,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// wsClient is one connection with its outbound queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket connections and their per-event subscriptions.
// It is an injected component, not a process-wide singleton, so tests can
// run isolated events side by side.
type Hub struct {
	engine *board.Engine

	mu          sync.RWMutex
	subscribers map[string]map[*wsClient]bool // eventID → clients
	clientSubs  map[*wsClient]map[string]bool
}

// NewHub creates a hub that serves snapshots from the given engine.
func NewHub(engine *board.Engine) *Hub {
	return &Hub{
		engine:      engine,
		subscribers: make(map[string]map[*wsClient]bool),
		clientSubs:  make(map[*wsClient]map[string]bool),
	}
}

// Publish fans a committed change out to every subscriber of its event.
// Never blocks: a slow client's queue overflows and the change is dropped
// for that client only. Delivery order is not guaranteed across concurrent
// commits; clients order by version and resync on a detected gap.
func (h *Hub) Publish(change model.SongEntryChange) {
	msg := wsMessage{
		Type:    "change",
		EventID: change.EventID,
		Version: change.Version,
		Change:  &change,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscribers[change.EventID] {
		select {
		case c.send <- data:
		default:
			// Queue full: drop; the client resyncs off the version gap.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientSubs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clientSubs[c] = make(map[string]bool)
	total := len(h.clientSubs)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	slog.Info("ws client connected", "total", total)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if subs, ok := h.clientSubs[c]; ok {
		for eventID := range subs {
			delete(h.subscribers[eventID], c)
			if len(h.subscribers[eventID]) == 0 {
				delete(h.subscribers, eventID)
			}
		}
		delete(h.clientSubs, c)
		close(c.send)
	}
	total := len(h.clientSubs)
	h.mu.Unlock()
	c.conn.Close()
	metrics.WebSocketClients.Set(float64(total))
}

// subscribe registers interest in one event and queues the current full
// snapshot so the client has a baseline before any delta arrives.
func (h *Hub) subscribe(c *wsClient, eventID string) {
	h.mu.Lock()
	if h.subscribers[eventID] == nil {
		h.subscribers[eventID] = make(map[*wsClient]bool)
	}
	h.subscribers[eventID][c] = true
	h.clientSubs[c][eventID] = true
	h.mu.Unlock()

	snap := h.engine.Snapshot(eventID)
	h.sendJSON(c, wsMessage{
		Type:     "snapshot",
		EventID:  eventID,
		Version:  snap.Version,
		Snapshot: &snap,
	})
}

func (h *Hub) unsubscribe(c *wsClient, eventID string) {
	h.mu.Lock()
	delete(h.subscribers[eventID], c)
	if len(h.subscribers[eventID]) == 0 {
		delete(h.subscribers, eventID)
	}
	delete(h.clientSubs[c], eventID)
	h.mu.Unlock()
}

func (h *Hub) sendJSON(c *wsClient, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump consumes subscribe/unsubscribe commands and enforces the
// heartbeat window.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.EventID == "" {
			h.sendJSON(c, wsMessage{Type: "error", Error: "invalid command"})
			continue
		}
		switch cmd.Action {
		case "subscribe":
			h.subscribe(c, cmd.EventID)
		case "unsubscribe":
			h.unsubscribe(c, cmd.EventID)
		default:
			h.sendJSON(c, wsMessage{Type: "error", Error: "unknown action: " + cmd.Action})
		}
	}
}

// writePump drains the outbound queue and keeps the connection alive
// through proxies with periodic pings.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
