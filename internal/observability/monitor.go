package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TranscriptEvent is one monitor update: a committed transcript
// extension or a finished translation.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // "commit" or "translation"
	Lang      string    `json:"lang"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event kinds.
const (
	EventCommit      = "commit"
	EventTranslation = "translation"
)

var monitorUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Monitor is a read-only local debugging surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Monitor broadcasts transcript events to websocket observers. Observers
// only ever see committed text; a slow observer is dropped rather than
// letting it block the pipeline.
type Monitor struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*monitorClient]struct{}
}

type monitorClient struct {
	conn *websocket.Conn
	send chan TranscriptEvent
}

// NewMonitor creates an empty monitor hub.
func NewMonitor() *Monitor {
	return &Monitor{
		logger:  GetLogger().With().Str("component", "monitor").Logger(),
		clients: make(map[*monitorClient]struct{}),
	}
}

// Handler upgrades an HTTP request to a websocket observer connection.
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := monitorUpgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Monitor upgrade failed")
			return
		}

		c := &monitorClient{conn: conn, send: make(chan TranscriptEvent, 64)}
		m.mu.Lock()
		m.clients[c] = struct{}{}
		n := len(m.clients)
		m.mu.Unlock()
		m.logger.Info().Int("observers", n).Msg("Monitor observer connected")

		go m.writeLoop(c)
		go m.readLoop(c)
	}
}

// Publish fans an event out to all observers without blocking.
func (m *Monitor) Publish(ev TranscriptEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		select {
		case c.send <- ev:
		default:
			// Observer can't keep up; cut it loose.
			delete(m.clients, c)
			close(c.send)
		}
	}
}

// Observers returns the current observer count.
func (m *Monitor) Observers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *Monitor) writeLoop(c *monitorClient) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(ev); err != nil {
			m.remove(c)
			return
		}
	}
}

// readLoop discards inbound messages and detects disconnects.
func (m *Monitor) readLoop(c *monitorClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			m.remove(c)
			return
		}
	}
}

func (m *Monitor) remove(c *monitorClient) {
	m.mu.Lock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		close(c.send)
	}
	m.mu.Unlock()
	c.conn.Close()
}
