package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// historyPageLimit is the page size for the one-shot history fetch on
// conversation activation. One page; older history is out of view.
const historyPageLimit = 200

// ConversationPreview is the list-pane row for one conversation.
type ConversationPreview struct {
	ID            string
	CounterpartID string
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
}

// ConversationStore is the persistence surface the session controller
// talks to. The production implementation calls the gateway's REST API;
// tests substitute in-memory stores.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]ConversationPreview, error)
	FetchMessages(ctx context.Context, conversationID string) ([]Message, error)
	AppendMessage(ctx context.Context, conversationID, content string) (Message, error)
}

// HTTPStore talks to the gateway's conversation endpoints. Message
// sender ids are folded into roles relative to the authenticated user.
type HTTPStore struct {
	baseURL string
	token   string
	selfID  string
	role    Role
	client  *http.Client
}

func NewHTTPStore(baseURL, token, selfID string, role Role) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		selfID:  selfID,
		role:    role,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type conversationDTO struct {
	ID           int64       `json:"id"`
	SubscriberID int64       `json:"subscriber_id"`
	CoachID      int64       `json:"coach_id"`
	LastMessage  *messageDTO `json:"last_message,omitempty"`
	UnreadCount  int         `json:"unread_count"`
}

type messageDTO struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *HTTPStore) ListConversations(ctx context.Context) ([]ConversationPreview, error) {
	var payload struct {
		Conversations []conversationDTO `json:"conversations"`
	}
	if err := s.get(ctx, "/api/v1/conversations", &payload); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	previews := make([]ConversationPreview, 0, len(payload.Conversations))
	for _, conv := range payload.Conversations {
		preview := ConversationPreview{
			ID:            strconv.FormatInt(conv.ID, 10),
			CounterpartID: s.counterpartID(conv),
			UnreadCount:   conv.UnreadCount,
		}
		if conv.LastMessage != nil {
			preview.LastMessage = conv.LastMessage.Content
			preview.LastMessageAt = conv.LastMessage.CreatedAt
		}
		previews = append(previews, preview)
	}
	return previews, nil
}

// FetchMessages returns the newest page of history in ascending send
// order, ready to seed the synchronizer.
func (s *HTTPStore) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var payload struct {
		Messages []messageDTO `json:"messages"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages?page=1&limit=%d", conversationID, historyPageLimit)
	if err := s.get(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	// The gateway pages newest-first; flip to chronological order.
	messages := make([]Message, 0, len(payload.Messages))
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		messages = append(messages, s.toMessage(payload.Messages[i]))
	}
	return messages, nil
}

func (s *HTTPStore) AppendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	var payload struct {
		Message messageDTO `json:"message"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", conversationID)
	if err := s.post(ctx, path, body, &payload); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return s.toMessage(payload.Message), nil
}

func (s *HTTPStore) counterpartID(conv conversationDTO) string {
	if s.role == RoleCoach {
		return strconv.FormatInt(conv.SubscriberID, 10)
	}
	return strconv.FormatInt(conv.CoachID, 10)
}

func (s *HTTPStore) toMessage(dto messageDTO) Message {
	sender := s.role
	if strconv.FormatInt(dto.SenderID, 10) != s.selfID {
		sender = s.role.Counterpart()
	}
	return Message{
		ID:      strconv.FormatInt(dto.ID, 10),
		Sender:  sender,
		Content: dto.Content,
		SentAt:  dto.CreatedAt,
		IsRead:  dto.IsRead,
	}
}

func (s *HTTPStore) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, http.StatusOK, out)
}

func (s *HTTPStore) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, http.StatusCreated, out)
}

func (s *HTTPStore) do(req *http.Request, wantStatus int, out any) error {
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
