package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards are served from other origins
	},
}

// LiveMessage is one message on the /api/live socket.
type LiveMessage struct {
	Type      string      `json:"type"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type liveClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// LiveHub pushes every pipeline result to connected WebSocket clients.
// Slow clients miss frames rather than stall the pipeline.
type LiveHub struct {
	clients map[string]*liveClient
	mu      sync.RWMutex
	cancel  func()
	log     logrus.FieldLogger
}

// NewLiveHub subscribes a hub to pipeline results.
func NewLiveHub(p *app.Pipeline, log logrus.FieldLogger) *LiveHub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &LiveHub{
		clients: make(map[string]*liveClient),
		log:     log.WithField("component", "live"),
	}
	h.cancel = p.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the request and streams results until the client leaves.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &liveClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, liveSendBuffer),
	}

	welcome, _ := json.Marshal(LiveMessage{
		Type:      "welcome",
		ClientID:  c.id,
		Timestamp: time.Now().UnixMilli(),
	})

	// Registered before the welcome is queued, so a client that has read
	// the welcome receives every later frame.
	h.mu.Lock()
	h.clients[c.id] = c
	c.send <- welcome
	h.mu.Unlock()
	h.log.WithField("client_id", c.id).Info("live client connected")

	go h.writePump(c)
	h.readPump(c)

	h.remove(c.id)
	h.log.WithField("client_id", c.id).Info("live client disconnected")
}

// Clients returns the number of connected clients.
func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the pipeline and disconnects every client.
func (h *LiveHub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *LiveHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *LiveHub) broadcast(result app.FrameResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(LiveMessage{
		Type:      "frame",
		Timestamp: time.Now().UnixMilli(),
		Payload:   result,
	})
	if err != nil {
		h.log.WithError(err).Warn("failed to encode frame result")
		return
	}

	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.WithField("client_id", c.id).Debug("live client behind, dropping frame")
		}
	}
}

// readPump discards client messages and returns when the connection fails.
func (h *LiveHub) readPump(c *liveClient) {
	c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(livePongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("client_id", c.id).Debug("live read failed")
			}
			return
		}
	}
}

func (h *LiveHub) writePump(c *liveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
