package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Server events.
const (
	EventConnectionReady = "connection_ready"
	EventConnectionError = "connection_error"
)

// relayed maps an inbound client event to the event its target receives.
var relayed = map[string]string{
	"call_user":          "incoming_call",
	"call_response":      "call_response",
	"call_started":       "call_started_by_other",
	"end_call":           "call_ended",
	"participant_joined": "participant_joined",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a client to server message.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// targets names who should receive a relayed event.
type targets struct {
	TargetUserID  uint   `json:"targetUserId"`
	CallerID      uint   `json:"callerId"`
	TargetUserIDs []uint `json:"targetUserIds"`
}

func (t targets) list(from uint) []uint {
	seen := map[uint]bool{from: true}
	var out []uint
	for _, id := range append([]uint{t.TargetUserID, t.CallerID}, t.TargetUserIDs...) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

type Handler struct {
	hub  *Hub
	auth *utils.Authenticator
	log  logrus.FieldLogger
}

func NewHandler(hub *Hub, auth *utils.Authenticator, log logrus.FieldLogger) *Handler {
	return &Handler{hub: hub, auth: auth, log: log}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/calls", h.ServeWS)
}

// ServeWS upgrades the connection and authenticates it with the token from
// the "token" query parameter or the Authorization header.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = utils.BearerToken(r)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	userID, role, err := utils.ParseToken(h.auth.Secret(), token)
	if err != nil || userID == 0 {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(Event{
			Type:      EventConnectionError,
			Data:      map[string]string{"message": "authentication failed"},
			Timestamp: time.Now().UTC(),
		})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		conn.Close()
		return
	}

	client := &Client{
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, sendBuffer),
		hub:    h.hub,
		conn:   conn,
	}
	h.hub.Register(client)
	h.hub.SendToUser(userID, EventConnectionReady, map[string]interface{}{
		"userId": userID,
		"role":   role,
	})
	h.log.WithFields(logrus.Fields{"user_id": userID, "role": role}).Debug("signaling client connected")

	go client.writePump()
	go client.readPump(h.log)
}

func (c *Client) readPump(log logrus.FieldLogger) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("user_id", c.UserID).Debug("signaling read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	if msg.Type == "user_online" {
		c.hub.Register(c)
		return
	}

	outbound, ok := relayed[msg.Type]
	if !ok {
		return
	}

	var t targets
	payload := map[string]interface{}{}
	if len(msg.Data) > 0 {
		if json.Unmarshal(msg.Data, &t) != nil || json.Unmarshal(msg.Data, &payload) != nil {
			return
		}
	}
	payload["fromUserId"] = c.UserID

	for _, target := range t.list(c.UserID) {
		c.hub.SendToUser(target, outbound, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
