// Package wire defines the JSON frames exchanged over the chat websocket.
// Both the gateway hub and the dashboard client speak this schema.
package wire

// Frame types.
const (
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypeRead    = "read"
	TypeStatus  = "status"
	TypeError   = "error"
)

// Presence statuses carried by status frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ChatTypeText is the only chat type currently supported.
const ChatTypeText = "text"

// Frame is the envelope for every websocket event. Type selects which
// fields are meaningful; unused fields are omitted on the wire.
type Frame struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message,omitempty"`
	ChatType  string `json:"chatType,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Time      string `json:"time,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Status    string `json:"status,omitempty"`
}
