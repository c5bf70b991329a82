package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"formulaflow/internal/metrics"
	"formulaflow/logger"
	"formulaflow/models"
)

const (
	eventBuffer  = 32
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// CalculationEvent is one message on the calculation event stream.
type CalculationEvent struct {
	Type        string             `json:"type"`
	Calculation models.Calculation `json:"calculation"`
}

// Hub fans calculation updates out to websocket subscribers. It implements
// processor.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Log
}

type client struct {
	conn *websocket.Conn
	send chan CalculationEvent
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(log *logger.Log) *Hub {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// CalculationUpdated broadcasts c. Subscribers whose buffer is full miss the
// event.
func (h *Hub) CalculationUpdated(c models.Calculation) {
	event := CalculationEvent{Type: "calculation." + strings.ToLower(c.Status), Calculation: c}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		select {
		case cl.send <- event:
		default:
			metrics.EmitDropMetric(h.log, metrics.DropMetricNotify, c.LocationID)
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("api_events").WithError(err).Warn("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan CalculationEvent, eventBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.log.WithComponent("api_events").WithFields(logger.Fields{"remote": r.RemoteAddr}).Info("event subscriber connected")

	go h.readLoop(cl)
	h.writeLoop(cl)
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		cl.close()
	}
	h.mu.Unlock()
}

// readLoop discards client messages and unregisters the client once the
// connection breaks.
func (h *Hub) readLoop(cl *client) {
	defer h.remove(cl)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
		h.log.WithComponent("api_events").Debug("event subscriber disconnected")
	}()

	for {
		select {
		case event, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteJSON(event); err != nil {
				h.remove(cl)
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(cl)
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		delete(h.clients, cl)
		cl.close()
	}
}
