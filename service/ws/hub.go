// Package ws is the signaling gateway: one websocket per user, relaying call
// lifecycle events between participants.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/KAsare1/teleconsult-server/service/metrics"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event is a server to client message.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Relay forwards events for users connected to other instances.
type Relay interface {
	Publish(ctx context.Context, userID uint, data []byte) error
}

// Client is one authenticated connection.
type Client struct {
	UserID uint
	Role   string
	Send   chan []byte

	hub    *Hub
	conn   *websocket.Conn
	closed bool
}

// Hub is the presence registry. Each user has at most one live client; a
// newer connection replaces and closes the older one.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]*Client
	relay   Relay
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func NewHub(m *metrics.Metrics, log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[uint]*Client),
		metrics: m,
		log:     log,
	}
}

// SetRelay enables cross-instance delivery for users not connected here.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

// Register makes c the user's current connection and closes any previous one.
// A client that was already closed is ignored.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	previous := h.clients[c.UserID]
	if previous != nil && previous != c {
		previous.shutdown()
	}
	h.clients[c.UserID] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetSignalingClients(count)
	if previous != nil && previous != c {
		h.log.WithField("user_id", c.UserID).Info("signaling connection superseded")
	}
}

// Unregister removes c if it is still the user's current connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.UserID] == c {
		delete(h.clients, c.UserID)
	}
	c.shutdown()
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetSignalingClients(count)
}

// shutdown closes the send queue once. Callers hold h.mu.
func (c *Client) shutdown() {
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (h *Hub) IsOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToUser delivers an event at most once. Events for users with no
// connection here are handed to the relay if one is set, otherwise dropped.
func (h *Hub) SendToUser(userID uint, event string, payload interface{}) bool {
	data, err := json.Marshal(Event{Type: event, Data: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("marshal signaling event")
		return false
	}

	if h.deliverLocal(userID, data) {
		h.metrics.ObserveSignal(event, true)
		return true
	}

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := relay.Publish(ctx, userID, data); err != nil {
			h.log.WithError(err).WithField("user_id", userID).Warn("relay publish failed")
		} else {
			h.metrics.ObserveSignal(event, true)
			return true
		}
	}

	h.metrics.ObserveSignal(event, false)
	return false
}

// deliverLocal queues data for a locally connected user. A full queue drops
// the message rather than blocking the sender.
func (h *Hub) deliverLocal(userID uint, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[userID]
	if !ok || c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		h.log.WithField("user_id", userID).Warn("signaling queue full, dropping event")
		return false
	}
}
