package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rail-mind/railmind/internal/monitoring"
	"github.com/rail-mind/railmind/internal/rail"
)

const (
	// writeWait bounds one frame write to a client.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the read
	// side gives up on it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames; clients only send "ping".
	maxMessageSize = 512
	// clientQueue is the per-client outbound buffer. A full queue drops
	// frames for that client instead of stalling the tick loop.
	clientQueue = 16
)

var upgrader = websocket.Upgrader{
	// Dashboards connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// event is the wire frame pushed to subscribers.
type event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans completed tick reports out to websocket subscribers. It
// implements rail.Listener and runs outside the system lock.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

// ClientCount reports the number of attached subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// OnTick broadcasts the tick report to every subscriber.
func (h *Hub) OnTick(rep rail.TickReport) {
	h.broadcast(event{Type: "tick", Data: rep})
}

func (h *Hub) broadcast(ev event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[api] websocket marshal: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			monitoring.Logf("[api] websocket client lagging, frame dropped")
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}
	s.hub.add(c)

	// Seed the subscriber with the current state so it renders without
	// waiting for the next tick.
	if payload, err := json.Marshal(event{Type: "state", Data: s.sys.State()}); err == nil {
		c.send <- payload
	}

	go c.writePump()
	c.readPump(s.hub)
}

// readPump consumes inbound frames until the client goes away. The only
// recognised request is a literal "ping", answered with "pong".
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[api] websocket read: %v", err)
			}
			return
		}
		if msgType == websocket.TextMessage && string(data) == "ping" {
			select {
			case c.send <- []byte("pong"):
			default:
			}
		}
	}
}

// writePump owns all writes to the connection: queued frames plus the
// keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
