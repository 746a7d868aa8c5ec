// Package chatclient is the dashboard-side chat core: it keeps a live
// conversation view consistent across a one-time REST history fetch, the
// persistent websocket event stream, local optimistic sends, and
// reconnect/failure conditions.
package chatclient

import (
	"errors"
	"time"
)

// MaxMessageLength mirrors the gateway's send contract, in runes.
const MaxMessageLength = 1000

var (
	ErrNotConnected     = errors.New("socket is not connected")
	ErrRetriesExhausted = errors.New("connection retries exhausted")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message exceeds 1000 characters")
	ErrNoConversation   = errors.New("no conversation selected")
)

// Role identifies which side of a conversation an actor is on. A
// conversation is always exactly one coach paired with one subscriber.
type Role string

const (
	RoleCoach      Role = "coach"
	RoleSubscriber Role = "subscriber"
)

// Counterpart returns the opposite side of the conversation.
func (r Role) Counterpart() Role {
	if r == RoleCoach {
		return RoleSubscriber
	}
	return RoleCoach
}

// Message is the view-model form of a chat message. Locally composed
// messages carry a provisional id and Pending=true until the store
// acknowledges them with an authoritative id.
type Message struct {
	ID      string
	Sender  Role
	Content string
	SentAt  time.Time
	IsRead  bool
	Pending bool
}
