package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"viva/alert"
	"viva/conversation"
	"viva/interview"
	"viva/log"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
	pingInterval = 20 * time.Second
)

// Event is one frame of the /live feed.
type Event struct {
	Type    string             `json:"type"`
	Session *interview.Session `json:"session,omitempty"`
	Turn    *turnJSON          `json:"turn,omitempty"`
	Text    string             `json:"text,omitempty"`
	Alert   *alertJSON         `json:"alert,omitempty"`
}

type alertJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Hub broadcasts interview events to websocket clients. It implements
// interview.EventSink. Slow clients are disconnected rather than
// blocking the session.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte // latest status frame, replayed to new clients
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	go h.writer(c)
	// The feed is one-way; reading only detects the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writer(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Clients is the number of connected feeds.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Warnf("live feed: %v", err)
		return
	}
	h.mu.Lock()
	if ev.Type == "status" {
		h.last = msg
	}
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	for _, c := range slow {
		c.close()
	}
}

func (h *Hub) Status(s interview.Session) {
	h.broadcast(Event{Type: "status", Session: &s})
}

func (h *Hub) Turn(t conversation.Turn) {
	tj := toTurnJSON(t)
	h.broadcast(Event{Type: "turn", Turn: &tj})
}

func (h *Hub) Partial(text string) {
	h.broadcast(Event{Type: "partial", Text: text})
}

func (h *Hub) Alert(a alert.Alert) {
	aj := alertJSON{Kind: a.Kind.String(), Message: a.Message}
	if a.Err != nil {
		aj.Error = a.Err.Error()
	}
	h.broadcast(Event{Type: "alert", Alert: &aj})
}
