package chatclient

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saeid-a/CoachChat/internal/wire"
)

type stubTransport struct {
	mu   sync.Mutex
	sent []wire.Frame

	messages chan wire.Frame
	typing   chan wire.Frame
	receipts chan wire.Frame
	presence chan wire.Frame
	errs     chan wire.Frame
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		messages: make(chan wire.Frame, 8),
		typing:   make(chan wire.Frame, 8),
		receipts: make(chan wire.Frame, 8),
		presence: make(chan wire.Frame, 8),
		errs:     make(chan wire.Frame, 8),
	}
}

func (s *stubTransport) Send(frame wire.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame)
	return nil
}

func (s *stubTransport) Messages() <-chan wire.Frame { return s.messages }
func (s *stubTransport) Typing() <-chan wire.Frame   { return s.typing }
func (s *stubTransport) Receipts() <-chan wire.Frame { return s.receipts }
func (s *stubTransport) Presence() <-chan wire.Frame { return s.presence }
func (s *stubTransport) Errors() <-chan wire.Frame   { return s.errs }

func (s *stubTransport) framesOfType(frameType string) []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Frame
	for _, frame := range s.sent {
		if frame.Type == frameType {
			out = append(out, frame)
		}
	}
	return out
}

type stubStore struct {
	mu       sync.Mutex
	previews []ConversationPreview
	history  map[string][]Message
	gates    map[string]chan struct{}

	appendErr error
	appended  []string
	nextID    int64
	storedAt  time.Time
}

func newStubStore() *stubStore {
	return &stubStore{
		history:  make(map[string][]Message),
		gates:    make(map[string]chan struct{}),
		nextID:   100,
		storedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func (s *stubStore) ListConversations(_ context.Context) ([]ConversationPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationPreview, len(s.previews))
	copy(out, s.previews)
	return out, nil
}

func (s *stubStore) FetchMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	gate := s.gates[conversationID]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history[conversationID]
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *stubStore) AppendMessage(_ context.Context, conversationID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return Message{}, s.appendErr
	}
	s.nextID++
	s.appended = append(s.appended, conversationID+":"+content)
	return Message{
		ID:      strconv.FormatInt(s.nextID, 10),
		Content: content,
		SentAt:  s.storedAt,
	}, nil
}

func newTestSession(t *testing.T) (*Session, *stubTransport, *stubStore) {
	t.Helper()
	store := newStubStore()
	store.previews = []ConversationPreview{
		{ID: "1", CounterpartID: "20"},
		{ID: "2", CounterpartID: "30"},
	}
	transport := newStubTransport()

	session := NewSession("10", RoleSubscriber, transport, store)
	session.newID = func() string { return "local-1" }
	t.Cleanup(session.Close)

	if err := session.LoadConversations(context.Background()); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	return session, transport, store
}

func newReadySession(t *testing.T) (*Session, *stubTransport, *stubStore) {
	t.Helper()
	session, transport, store := newTestSession(t)
	session.SelectConversation("1")
	waitFor(t, "selected conversation ready", func() bool { return session.State() == SessionReady })
	return session, transport, store
}

func TestStaleHistoryFetchDiscarded(t *testing.T) {
	session, _, store := newTestSession(t)

	slow := make(chan struct{})
	store.mu.Lock()
	store.gates["1"] = slow
	store.history["1"] = []Message{{ID: "1", Sender: RoleCoach, Content: "old thread"}}
	store.history["2"] = []Message{{ID: "2", Sender: RoleCoach, Content: "new thread"}}
	store.mu.Unlock()

	session.SelectConversation("1")
	if got := session.State(); got != SessionLoading {
		t.Fatalf("expected loading state, got %s", got)
	}

	session.SelectConversation("2")
	waitFor(t, "second conversation ready", func() bool { return session.State() == SessionReady })

	// The first fetch resolves late; its result must not clobber the view.
	close(slow)
	time.Sleep(20 * time.Millisecond)

	messages := session.Messages()
	if len(messages) != 1 || messages[0].Content != "new thread" {
		t.Fatalf("expected the selected conversation's history, got %v", messages)
	}
	if got := session.SelectedConversation(); got != "2" {
		t.Fatalf("expected conversation 2 selected, got %q", got)
	}
}

func TestUnreadZeroesOnSelection(t *testing.T) {
	session, _, store := newTestSession(t)

	store.mu.Lock()
	store.previews[0].UnreadCount = 3
	gate := make(chan struct{})
	store.gates["1"] = gate
	store.mu.Unlock()

	if err := session.LoadConversations(context.Background()); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if got := session.Unread("1"); got != 3 {
		t.Fatalf("expected 3 unread before selection, got %d", got)
	}

	session.SelectConversation("1")

	// The badge clears on selection, not on history arrival.
	if got := session.Unread("1"); got != 0 {
		t.Fatalf("expected unread cleared immediately, got %d", got)
	}
	close(gate)
}

func TestSendValidation(t *testing.T) {
	session, _, _ := newReadySession(t)

	if err := session.Send("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	long := strings.Repeat("a", MaxMessageLength+1)
	session.InputChanged(long)
	if err := session.Send(long); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if got := session.Draft(); got != long {
		t.Fatalf("expected rejected send to keep the draft")
	}
	if got := len(session.Messages()); got != 0 {
		t.Fatalf("expected no optimistic insert on validation failure, got %d", got)
	}
}

func TestSendMaxLengthBoundary(t *testing.T) {
	session, _, _ := newReadySession(t)

	if err := session.Send(strings.Repeat("я", MaxMessageLength)); err != nil {
		t.Fatalf("expected exactly %d runes to pass, got %v", MaxMessageLength, err)
	}
}

func TestSendWithoutSelection(t *testing.T) {
	session, _, _ := newTestSession(t)

	if err := session.Send("hello"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestSendOptimisticConfirmAndRelay(t *testing.T) {
	session, transport, _ := newReadySession(t)

	session.InputChanged("hello coach")
	if err := session.Send("hello coach"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := session.Draft(); got != "" {
		t.Fatalf("expected draft cleared on send, got %q", got)
	}

	messages := session.Messages()
	if len(messages) != 1 || messages[0].ID != "local-1" || !messages[0].Pending {
		t.Fatalf("expected pending optimistic insert, got %v", messages)
	}

	waitFor(t, "persist confirmation", func() bool {
		msgs := session.Messages()
		return len(msgs) == 1 && msgs[0].ID == "101" && !msgs[0].Pending
	})

	waitFor(t, "relay frame", func() bool {
		return len(transport.framesOfType(wire.TypeMessage)) == 1
	})
	relayed := transport.framesOfType(wire.TypeMessage)[0]
	if relayed.To != "20" || relayed.MessageID != "101" || relayed.Message != "hello coach" {
		t.Fatalf("unexpected relay frame: %+v", relayed)
	}
	if relayed.ChatType != wire.ChatTypeText {
		t.Fatalf("expected text chat type, got %q", relayed.ChatType)
	}
}

func TestSendFailureWithdrawsAndRestoresDraft(t *testing.T) {
	session, transport, store := newReadySession(t)

	store.mu.Lock()
	store.appendErr = errors.New("persist unavailable")
	store.mu.Unlock()

	if err := session.Send("hello coach"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "optimistic entry withdrawn", func() bool {
		return len(session.Messages()) == 0 && session.Draft() == "hello coach"
	})

	if got := transport.framesOfType(wire.TypeMessage); len(got) != 0 {
		t.Fatalf("expected no relay after failed persist, got %v", got)
	}
}

func TestOwnEchoDeduplicated(t *testing.T) {
	session, transport, store := newReadySession(t)

	if err := session.Send("hello coach"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "persist confirmation", func() bool {
		msgs := session.Messages()
		return len(msgs) == 1 && msgs[0].ID == "101"
	})

	session.handleMessage(wire.Frame{
		Type:      wire.TypeMessage,
		From:      "10",
		Message:   "hello coach",
		MessageID: "101",
		Time:      store.storedAt.Format(time.RFC3339),
	})

	if got := len(session.Messages()); got != 1 {
		t.Fatalf("expected echo deduplicated, got %d messages", got)
	}
	if got := transport.framesOfType(wire.TypeRead); len(got) != 0 {
		t.Fatalf("expected no receipt for own echo, got %v", got)
	}
}

func TestIncomingMessageOnSelectedConversation(t *testing.T) {
	session, transport, _ := newReadySession(t)

	session.handleMessage(wire.Frame{
		Type:      wire.TypeMessage,
		From:      "20",
		Message:   "how was the workout?",
		MessageID: "55",
		Time:      "2026-03-14T10:05:00Z",
	})

	messages := session.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Sender != RoleCoach {
		t.Fatalf("expected counterpart sender, got %s", messages[0].Sender)
	}
	if !messages[0].IsRead {
		t.Fatalf("expected on-screen message marked read")
	}
	if got := session.Unread("1"); got != 0 {
		t.Fatalf("expected no unread increment for the open conversation, got %d", got)
	}

	receipts := transport.framesOfType(wire.TypeRead)
	if len(receipts) != 1 || receipts[0].To != "20" || receipts[0].MessageID != "55" {
		t.Fatalf("expected read receipt to the sender, got %v", receipts)
	}
}

func TestIncomingMessageOnOtherConversation(t *testing.T) {
	session, transport, _ := newReadySession(t)

	session.handleMessage(wire.Frame{
		Type:      wire.TypeMessage,
		From:      "30",
		Message:   "new plan is up",
		MessageID: "56",
		Time:      "2026-03-14T10:05:00Z",
	})

	if got := len(session.Messages()); got != 0 {
		t.Fatalf("expected open conversation untouched, got %d messages", got)
	}
	if got := session.Unread("2"); got != 1 {
		t.Fatalf("expected unread increment on conversation 2, got %d", got)
	}
	if got := transport.framesOfType(wire.TypeRead); len(got) != 0 {
		t.Fatalf("expected no receipt for background message, got %v", got)
	}

	previews := session.Previews()
	if previews[0].ID != "2" || previews[0].LastMessage != "new plan is up" {
		t.Fatalf("expected conversation 2 bumped to the top, got %v", previews)
	}
}

func TestIncomingMessageFromUnknownSenderDropped(t *testing.T) {
	session, _, _ := newReadySession(t)

	session.handleMessage(wire.Frame{
		Type:      wire.TypeMessage,
		From:      "99",
		Message:   "spam",
		MessageID: "57",
	})

	if got := len(session.Messages()); got != 0 {
		t.Fatalf("expected unknown sender dropped, got %d messages", got)
	}
	if got := session.Unread("1") + session.Unread("2"); got != 0 {
		t.Fatalf("expected no unread changes, got %d", got)
	}
}

func TestCounterpartTypingScopedToSelection(t *testing.T) {
	session, _, _ := newReadySession(t)

	session.handleTyping(wire.Frame{Type: wire.TypeTyping, From: "30", IsTyping: true})
	if session.CounterpartTyping() {
		t.Fatalf("expected typing from another conversation to be ignored")
	}

	session.handleTyping(wire.Frame{Type: wire.TypeTyping, From: "20", IsTyping: true})
	if !session.CounterpartTyping() {
		t.Fatalf("expected counterpart typing flag set")
	}

	session.handleTyping(wire.Frame{Type: wire.TypeTyping, From: "20", IsTyping: false})
	if session.CounterpartTyping() {
		t.Fatalf("expected counterpart typing flag cleared")
	}
}

func TestSelectionClearsRemoteTyping(t *testing.T) {
	session, _, store := newReadySession(t)

	store.mu.Lock()
	store.history["2"] = nil
	store.mu.Unlock()

	session.handleTyping(wire.Frame{Type: wire.TypeTyping, From: "20", IsTyping: true})
	session.SelectConversation("2")

	if session.CounterpartTyping() {
		t.Fatalf("expected stale typing flag cleared on reselection")
	}
}

func TestReadReceiptFlipsFlag(t *testing.T) {
	session, _, _ := newReadySession(t)

	if err := session.Send("did you see my log?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "persist confirmation", func() bool {
		msgs := session.Messages()
		return len(msgs) == 1 && msgs[0].ID == "101"
	})

	session.handleReceipt(wire.Frame{Type: wire.TypeRead, MessageID: "101"})

	if !session.Messages()[0].IsRead {
		t.Fatalf("expected receipt to mark the message read")
	}
}

func TestRunRoutesPresenceFrames(t *testing.T) {
	session, transport, _ := newReadySession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	transport.presence <- wire.Frame{Type: wire.TypeStatus, UserID: "20", Status: wire.StatusOnline}
	waitFor(t, "presence applied", func() bool { return session.IsOnline("20") })

	transport.presence <- wire.Frame{Type: wire.TypeStatus, UserID: "20", Status: wire.StatusOffline}
	waitFor(t, "presence removed", func() bool { return !session.IsOnline("20") })
}

func TestDeselectReturnsToNoSelection(t *testing.T) {
	session, _, _ := newReadySession(t)

	session.Deselect()

	if got := session.State(); got != SessionNoSelection {
		t.Fatalf("expected no-selection state, got %s", got)
	}
	if got := session.SelectedConversation(); got != "" {
		t.Fatalf("expected selection cleared, got %q", got)
	}
	if got := len(session.Messages()); got != 0 {
		t.Fatalf("expected working list dropped, got %d", got)
	}
}
