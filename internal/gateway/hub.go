// Package gateway is the websocket side of the chat service: it relays
// message, typing, read-receipt, and presence frames between connected
// participants. Message persistence lives on the REST path; the hub only
// stamps and forwards, echoing each message back to its sender.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/saeid-a/CoachChat/internal/services"
	"github.com/saeid-a/CoachChat/internal/wire"
)

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// delivery is a fully-formed frame plus the users it should reach.
type delivery struct {
	targets []string
	frame   wire.Frame
}

type receiptMarker interface {
	MarkMessageRead(ctx context.Context, actorID int64, messageID int64) error
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 64),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			if len(set) == 1 {
				h.broadcastStatus(client.userID, wire.StatusOnline)
			}
			h.sendOnlineSnapshot(client)
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
				h.broadcastStatus(client.userID, wire.StatusOffline)
			}
		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) deliver(d *delivery) {
	encoded, err := json.Marshal(d.frame)
	if err != nil {
		log.Printf("chat hub encode frame: %v", err)
		return
	}

	seen := make(map[string]struct{}, len(d.targets))
	for _, target := range d.targets {
		if target == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		h.sendToUser(target, encoded)
	}
}

// broadcastStatus tells every connected client that a user came online or
// went offline. Absence of a frame means no change; an ungraceful drop
// still produces an offline frame because the read pump unregisters on
// any read error.
func (h *Hub) broadcastStatus(userID, status string) {
	encoded, err := json.Marshal(wire.Frame{
		Type:   wire.TypeStatus,
		UserID: userID,
		Status: status,
	})
	if err != nil {
		return
	}
	for user := range h.clients {
		if user == userID {
			continue
		}
		h.sendToUser(user, encoded)
	}
}

// sendOnlineSnapshot replays the current online set to a joining client as
// individual status frames, so a fresh dashboard starts from known state.
func (h *Hub) sendOnlineSnapshot(client *Client) {
	for user := range h.clients {
		if user == client.userID {
			continue
		}
		encoded, err := json.Marshal(wire.Frame{
			Type:   wire.TypeStatus,
			UserID: user,
			Status: wire.StatusOnline,
		})
		if err != nil {
			continue
		}
		select {
		case client.send <- encoded:
		default:
		}
	}
}

func (h *Hub) sendToUser(userID string, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

func (c *Client) ReadPump(marker receiptMarker) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	actorID, err := strconv.ParseInt(c.userID, 10, 64)
	if err != nil {
		writeError(c, "invalid user")
		return
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming wire.Frame
		if err := json.Unmarshal(payload, &incoming); err != nil {
			writeError(c, "invalid frame payload")
			continue
		}

		switch incoming.Type {
		case wire.TypeMessage:
			c.relayMessage(incoming)
		case wire.TypeTyping:
			c.relayTyping(incoming)
		case wire.TypeRead:
			c.relayReceipt(marker, actorID, incoming)
		default:
			writeError(c, "unsupported frame type")
		}
	}
}

func (c *Client) relayMessage(incoming wire.Frame) {
	if incoming.To == "" {
		writeError(c, "missing recipient")
		return
	}

	trimmed, err := services.ValidateMessageContent(incoming.Message)
	if err != nil {
		writeError(c, "invalid message content")
		return
	}

	chatType := incoming.ChatType
	if chatType == "" {
		chatType = wire.ChatTypeText
	}
	sentAt := incoming.Time
	if sentAt == "" {
		sentAt = services.FormatChatTimestamp(time.Now())
	}

	c.hub.broadcast <- &delivery{
		targets: []string{incoming.To, c.userID},
		frame: wire.Frame{
			Type:      wire.TypeMessage,
			From:      c.userID,
			Message:   trimmed,
			ChatType:  chatType,
			MessageID: incoming.MessageID,
			Time:      sentAt,
		},
	}
}

func (c *Client) relayTyping(incoming wire.Frame) {
	if incoming.To == "" {
		return
	}
	c.hub.broadcast <- &delivery{
		targets: []string{incoming.To},
		frame: wire.Frame{
			Type:     wire.TypeTyping,
			From:     c.userID,
			IsTyping: incoming.IsTyping,
		},
	}
}

func (c *Client) relayReceipt(marker receiptMarker, actorID int64, incoming wire.Frame) {
	messageID, err := strconv.ParseInt(incoming.MessageID, 10, 64)
	if err != nil || messageID <= 0 {
		return
	}

	// Receipts are best-effort on both sides: a failed mark is logged, the
	// relay still happens so the author's view can catch up.
	if err := marker.MarkMessageRead(context.Background(), actorID, messageID); err != nil {
		log.Printf("chat hub mark read %d: %v", messageID, err)
	}

	if incoming.To == "" {
		return
	}
	c.hub.broadcast <- &delivery{
		targets: []string{incoming.To},
		frame: wire.Frame{
			Type:      wire.TypeRead,
			MessageID: incoming.MessageID,
		},
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func writeError(client *Client, message string) {
	payload, err := json.Marshal(wire.Frame{
		Type:    wire.TypeError,
		Message: message,
		Time:    services.FormatChatTimestamp(time.Now()),
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		client.hub.Unregister(client)
	}
}
