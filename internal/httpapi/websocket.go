package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// phaseEvent is broadcast to every subscribed client as a simulation moves
// through its algorithm, the SUPPLEMENTED FEATURES §/ws phase-streaming.
type phaseEvent struct {
	RequestID string `json:"requestId"`
	Phase     string `json:"phase"`
	Done      bool   `json:"done,omitempty"`
}

// wsClient is one connected WebSocket subscriber, grounded on
// proxy.go's WebSocketClient: a buffered send channel drained by a
// dedicated writePump, and an explicit subscription set guarded by a
// mutex since reads and broadcasts race on it.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	log    *logrus.Logger
	mu     sync.Mutex
	closed bool
	subs   map[string]bool // requestIDs this client wants; empty set means "all"
}

// wsManager fans phase events out to every client subscribed to the
// originating requestId, grounded on proxy.go's WebSocketManager register/
// unregister/broadcast loop.
type wsManager struct {
	clients    map[*wsClient]bool
	broadcast  chan phaseEvent
	register   chan *wsClient
	unregister chan *wsClient
	log        *logrus.Logger
}

func newWSManager(log *logrus.Logger) *wsManager {
	return &wsManager{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan phaseEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        log,
	}
}

func (m *wsManager) run() {
	for {
		select {
		case c := <-m.register:
			m.clients[c] = true
			m.log.Infof("ws client connected, total=%d", len(m.clients))
		case c := <-m.unregister:
			if _, ok := m.clients[c]; ok {
				delete(m.clients, c)
				close(c.send)
				m.log.Infof("ws client disconnected, total=%d", len(m.clients))
			}
		case ev := <-m.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			for c := range m.clients {
				c.mu.Lock()
				interested := len(c.subs) == 0 || c.subs[ev.RequestID]
				c.mu.Unlock()
				if !interested {
					continue
				}
				select {
				case c.send <- payload:
				default:
					close(c.send)
					delete(m.clients, c)
				}
			}
		}
	}
}

// reporterFor returns an engine.PhaseReporter that broadcasts to every
// subscriber of requestID.
func (m *wsManager) reporterFor(requestID string) func(phase string) {
	return func(phase string) {
		select {
		case m.broadcast <- phaseEvent{RequestID: requestID, Phase: phase, Done: phase == "done"}:
		default:
			m.log.Warn("ws broadcast channel full, dropping phase event")
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (m *wsManager) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Errorf("ws upgrade failed: %v", err)
		return
	}
	requestID := r.URL.Query().Get("requestId")
	c := &wsClient{conn: conn, send: make(chan []byte, 64), log: m.log, subs: map[string]bool{}}
	if requestID != "" {
		c.subs[requestID] = true
	}
	m.register <- c

	go c.writePump()
	go c.readPump(m)
}

// readPump lets a connected client add/remove requestId subscriptions by
// sending {"subscribe":"<id>"} or {"unsubscribe":"<id>"} frames.
func (c *wsClient) readPump(m *wsManager) {
	defer func() {
		m.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd struct {
			Subscribe   string `json:"subscribe"`
			Unsubscribe string `json:"unsubscribe"`
		}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}
		c.mu.Lock()
		if cmd.Subscribe != "" {
			c.subs[cmd.Subscribe] = true
		}
		if cmd.Unsubscribe != "" {
			delete(c.subs, cmd.Unsubscribe)
		}
		c.mu.Unlock()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
