package chatclient

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/saeid-a/CoachChat/internal/wire"
)

// SessionState is the lifecycle of the selected-conversation view.
type SessionState string

const (
	SessionNoSelection SessionState = "no_selection"
	SessionLoading     SessionState = "loading"
	SessionReady       SessionState = "ready"
	SessionError       SessionState = "error"
)

// transport is the slice of ConnManager the session consumes.
type transport interface {
	Send(frame wire.Frame) error
	Messages() <-chan wire.Frame
	Typing() <-chan wire.Frame
	Receipts() <-chan wire.Frame
	Presence() <-chan wire.Frame
	Errors() <-chan wire.Frame
}

// Session is the per-user chat controller: it owns conversation
// selection, the message synchronizer for the selected conversation,
// unread counters, and the draft, and it is the single consumer of the
// connection manager's event channels via Run.
type Session struct {
	selfID string
	role   Role

	conn     transport
	store    ConversationStore
	presence *PresenceTracker
	typing   *TypingController

	mu            sync.Mutex
	state         SessionState
	lastErr       error
	selected      string
	counterpart   string
	draft         string
	sync          *Synchronizer
	unread        map[string]int
	previews      map[string]ConversationPreview
	byCounterpart map[string]string

	now   func() time.Time
	newID func() string
}

func NewSession(selfID string, role Role, conn transport, store ConversationStore) *Session {
	s := &Session{
		selfID:        selfID,
		role:          role,
		conn:          conn,
		store:         store,
		presence:      NewPresenceTracker(),
		state:         SessionNoSelection,
		sync:          NewSynchronizer(),
		unread:        make(map[string]int),
		previews:      make(map[string]ConversationPreview),
		byCounterpart: make(map[string]string),
		now:           time.Now,
		newID:         func() string { return "local-" + uuid.NewString() },
	}
	s.typing = NewTypingController(s.emitTyping)
	return s
}

// emitTyping is the typing controller's sink. It runs under the
// controller's lock, so it must not call back into the controller.
func (s *Session) emitTyping(isTyping bool) {
	s.mu.Lock()
	to := s.counterpart
	s.mu.Unlock()
	if to == "" {
		return
	}

	err := s.conn.Send(wire.Frame{
		Type:     wire.TypeTyping,
		To:       to,
		IsTyping: isTyping,
	})
	if err != nil && !transportDown(err) {
		log.Printf("chat session: typing signal: %v", err)
	}
}

// transportDown reports a send failure that is expected while the socket
// is disconnected or terminally failed. Best-effort emissions drop these
// silently; everything else is logged.
func transportDown(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrRetriesExhausted)
}

// LoadConversations fetches the conversation list and rebuilds the
// preview index. Unread counters for non-selected conversations take
// the store's values.
func (s *Session) LoadConversations(ctx context.Context) error {
	previews, err := s.store.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range previews {
		s.previews[p.ID] = p
		s.byCounterpart[p.CounterpartID] = p.ID
		if p.ID != s.selected {
			s.unread[p.ID] = p.UnreadCount
		}
	}
	return nil
}

// SelectConversation activates a conversation: the unread counter zeroes
// immediately, the message list resets, and history loads in the
// background. Selecting the already-selected conversation re-fetches.
func (s *Session) SelectConversation(id string) {
	s.typing.Reset()

	s.mu.Lock()
	s.selected = id
	s.counterpart = s.previews[id].CounterpartID
	s.unread[id] = 0
	s.draft = ""
	s.lastErr = nil
	s.state = SessionLoading
	s.sync = NewSynchronizer()
	s.mu.Unlock()

	go s.fetchHistory(id)
}

// Deselect returns to the no-selection state, dropping the working
// message list and any pending typing stop.
func (s *Session) Deselect() {
	s.typing.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = ""
	s.counterpart = ""
	s.draft = ""
	s.lastErr = nil
	s.state = SessionNoSelection
	s.sync = NewSynchronizer()
}

// Retry re-runs the history fetch after a failure. No-op unless the
// selected conversation is in the error state.
func (s *Session) Retry() {
	s.mu.Lock()
	id := s.selected
	if id == "" || s.state != SessionError {
		s.mu.Unlock()
		return
	}
	s.lastErr = nil
	s.state = SessionLoading
	s.mu.Unlock()

	go s.fetchHistory(id)
}

// fetchHistory loads one conversation's history. A response for a
// conversation that is no longer selected is discarded outright.
func (s *Session) fetchHistory(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	history, err := s.store.FetchMessages(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != id {
		return
	}
	if err != nil {
		s.lastErr = err
		s.state = SessionError
		return
	}
	s.sync.Seed(history)
	s.state = SessionReady
}

// InputChanged records the draft text and feeds the typing debouncer.
func (s *Session) InputChanged(text string) {
	s.mu.Lock()
	if s.selected == "" {
		s.mu.Unlock()
		return
	}
	s.draft = text
	s.mu.Unlock()

	s.typing.InputActivity()
}

// Send validates and dispatches the given text: the message appears in
// the list immediately as pending, persistence runs in the background,
// and the stream relay follows a successful persist. Validation failures
// leave the draft untouched.
func (s *Session) Send(text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return ErrMessageTooLong
	}

	s.mu.Lock()
	if s.selected == "" || s.state != SessionReady {
		s.mu.Unlock()
		return ErrNoConversation
	}
	provisional := Message{
		ID:      s.newID(),
		Sender:  s.role,
		Content: content,
		SentAt:  s.now(),
		Pending: true,
	}
	convID := s.selected
	to := s.counterpart
	s.draft = ""
	s.sync.Append(provisional)
	s.touchPreviewLocked(convID, content, provisional.SentAt)
	s.mu.Unlock()

	s.typing.MessageSent()
	go s.persistSend(convID, to, provisional)
	return nil
}

// persistSend stores the message and, on success, reconciles the
// provisional entry and relays the authoritative copy over the stream.
// On failure the optimistic entry is withdrawn and the text returns to
// the draft so nothing typed is lost.
func (s *Session) persistSend(convID, to string, provisional Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	stored, err := s.store.AppendMessage(ctx, convID, provisional.Content)

	if err != nil {
		s.mu.Lock()
		if s.selected == convID {
			s.sync.Remove(provisional.ID)
			if s.draft == "" {
				s.draft = provisional.Content
			}
		}
		s.mu.Unlock()
		log.Printf("chat session: send failed: %v", err)
		return
	}

	s.mu.Lock()
	if s.selected == convID {
		s.sync.Confirm(provisional.ID, stored.ID, stored.SentAt)
	}
	s.mu.Unlock()

	relayErr := s.conn.Send(wire.Frame{
		Type:      wire.TypeMessage,
		To:        to,
		Message:   stored.Content,
		ChatType:  wire.ChatTypeText,
		MessageID: stored.ID,
		Time:      stored.SentAt.UTC().Format(time.RFC3339),
	})
	if relayErr != nil && !transportDown(relayErr) {
		log.Printf("chat session: message relay: %v", relayErr)
	}
}

// Run drains the connection manager's event channels until ctx ends.
// It is the only consumer of those channels.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.conn.Messages():
			s.handleMessage(f)
		case f := <-s.conn.Typing():
			s.handleTyping(f)
		case f := <-s.conn.Receipts():
			s.handleReceipt(f)
		case f := <-s.conn.Presence():
			s.handlePresence(f)
		case f := <-s.conn.Errors():
			log.Printf("chat session: stream error: %s", f.Message)
		}
	}
}

func (s *Session) handleMessage(f wire.Frame) {
	fromSelf := f.From == s.selfID
	sentAt, err := time.Parse(time.RFC3339, f.Time)
	if err != nil {
		sentAt = s.now()
	}

	s.mu.Lock()
	var convID string
	if fromSelf {
		// Echo of an own send; it belongs to the selected conversation.
		convID = s.selected
	} else {
		convID = s.byCounterpart[f.From]
	}
	if convID == "" {
		s.mu.Unlock()
		log.Printf("chat session: message from unknown sender %q dropped", f.From)
		return
	}

	msg := Message{
		ID:      f.MessageID,
		Sender:  s.role,
		Content: f.Message,
		SentAt:  sentAt,
	}
	if !fromSelf {
		msg.Sender = s.role.Counterpart()
	}

	if convID == s.selected {
		if !fromSelf {
			// The conversation is on screen, so the message is read on
			// arrival and the sender gets a receipt.
			msg.IsRead = true
		}
		appended := s.sync.IngestLive(msg)
		s.touchPreviewLocked(convID, msg.Content, msg.SentAt)
		s.mu.Unlock()

		if appended && !fromSelf && f.MessageID != "" {
			ackErr := s.conn.Send(wire.Frame{
				Type:      wire.TypeRead,
				To:        f.From,
				MessageID: f.MessageID,
			})
			if ackErr != nil && !transportDown(ackErr) {
				log.Printf("chat session: read receipt: %v", ackErr)
			}
		}
		return
	}

	s.unread[convID]++
	s.touchPreviewLocked(convID, msg.Content, msg.SentAt)
	s.mu.Unlock()
}

func (s *Session) handleTyping(f wire.Frame) {
	s.mu.Lock()
	relevant := s.selected != "" && f.From == s.counterpart
	s.mu.Unlock()

	if relevant {
		s.typing.SetRemote(f.IsTyping)
	}
}

func (s *Session) handleReceipt(f wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync.MarkRead(f.MessageID)
}

func (s *Session) handlePresence(f wire.Frame) {
	s.presence.Apply(f.UserID, f.Status)
}

// Close releases the session's own resources. The connection manager is
// shared session infrastructure and is torn down by its owner.
func (s *Session) Close() {
	s.typing.Close()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) SelectedConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Messages returns the selected conversation's working list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync.Messages()
}

func (s *Session) Unread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID]
}

// Previews returns the conversation list, most recently active first.
func (s *Session) Previews() []ConversationPreview {
	s.mu.Lock()
	out := make([]ConversationPreview, 0, len(s.previews))
	for _, p := range s.previews {
		out = append(out, p)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

func (s *Session) CounterpartTyping() bool {
	return s.typing.RemoteTyping()
}

func (s *Session) IsOnline(userID string) bool {
	return s.presence.IsOnline(userID)
}

func (s *Session) touchPreviewLocked(convID, content string, at time.Time) {
	p, ok := s.previews[convID]
	if !ok {
		p = ConversationPreview{ID: convID}
	}
	p.LastMessage = content
	p.LastMessageAt = at
	s.previews[convID] = p
}
