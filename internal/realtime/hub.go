// Package realtime fans chat events out to websocket subscribers.
// Clients join a room keyed by their own user identity; the relay
// publishes assistant chunks into the caller's room and direct
// messages are forwarded to the receiver's room.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// EventJoin subscribes the connection to the room named by the
	// payload user id.
	EventJoin = "join"
	// EventAIStream carries one assistant chunk during a relay turn.
	EventAIStream = "ai_stream"
	// EventSendMessage is a client-originated direct message.
	EventSendMessage = "send_message"
	// EventReceiveMessage delivers a direct message to the receiver's
	// room.
	EventReceiveMessage = "receive_message"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

// Envelope is the wire format for both directions of the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	UserID string `json:"userId"`
}

type directMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	IsAI       bool   `json:"isAI"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	userID string
}

func (c *client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *client) setRoom(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Hub tracks connected clients grouped into per-user rooms.
type Hub struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub builds a hub. origin restricts websocket upgrades to the
// configured caller origin; empty allows any.
func NewHub(log *logrus.Logger, origin string) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if origin == "" {
					return true
				}
				got := r.Header.Get("Origin")
				return got == "" || got == origin
			},
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// HandleWS upgrades the connection and runs its read/write pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	h.readPump(c)
}

// Publish sends one event into a user's room. Delivery is best
// effort: slow subscribers are dropped rather than blocking the
// publisher, and publishing to an empty room is not an error.
func (h *Hub) Publish(userID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[userID]))
	for c := range h.rooms[userID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- frame:
		default:
			// Slow consumer; drop it so the stream never stalls.
			h.log.WithField("user_id", userID).Warn("dropping slow websocket subscriber")
			h.remove(c)
		}
	}
	return nil
}

// RoomSize reports the subscriber count for a user's room.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

func (h *Hub) join(c *client, userID string) {
	if userID == "" {
		return
	}
	h.remove(c)
	c.setRoom(userID)
	h.mu.Lock()
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[userID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithField("user_id", userID).Debug("websocket client joined room")
}

func (h *Hub) remove(c *client) {
	room := c.room()
	if room == "" {
		return
	}
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	// send stays open: a concurrent Publish may still hold a snapshot
	// of the room. The done channel stops the write pump instead.
	defer func() {
		h.remove(c)
		close(c.done)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("websocket read ended")
			}
			return
		}
		switch env.Event {
		case EventJoin:
			var p joinPayload
			// The original clients send the bare user id; newer ones
			// wrap it in an object. Accept both.
			if err := json.Unmarshal(env.Data, &p); err != nil || p.UserID == "" {
				var bare string
				if json.Unmarshal(env.Data, &bare) == nil {
					p.UserID = bare
				}
			}
			h.join(c, p.UserID)
		case EventSendMessage:
			var dm directMessage
			if err := json.Unmarshal(env.Data, &dm); err != nil || dm.ReceiverID == "" {
				continue
			}
			_ = h.Publish(dm.ReceiverID, EventReceiveMessage, dm)
		default:
			// Unknown client events are ignored.
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
