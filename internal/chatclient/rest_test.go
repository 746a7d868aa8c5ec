package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newStoreServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"conversations": []map[string]any{
				{
					"id": 1, "subscriber_id": 10, "coach_id": 20,
					"unread_count": 2,
					"last_message": map[string]any{
						"id": 5, "sender_id": 20, "content": "see you at 6",
						"created_at": "2026-03-14T09:00:00Z",
					},
				},
			},
		})
	})

	mux.HandleFunc("GET /api/v1/conversations/1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Newest first, the way the gateway pages.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": 6, "sender_id": 10, "content": "second", "created_at": "2026-03-14T09:01:00Z"},
				{"id": 5, "sender_id": 20, "content": "first", "is_read": true, "created_at": "2026-03-14T09:00:00Z"},
			},
		})
	})

	mux.HandleFunc("POST /api/v1/conversations/1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"id": 101, "sender_id": 10, "content": body.Content,
				"created_at": "2026-03-14T09:02:00Z",
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPStoreListConversations(t *testing.T) {
	server := newStoreServer(t)
	store := NewHTTPStore(server.URL, "token-1", "10", RoleSubscriber)

	previews, err := store.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(previews) != 1 {
		t.Fatalf("expected 1 preview, got %d", len(previews))
	}

	preview := previews[0]
	if preview.ID != "1" || preview.CounterpartID != "20" {
		t.Fatalf("expected coach as counterpart for a subscriber, got %+v", preview)
	}
	if preview.LastMessage != "see you at 6" || preview.UnreadCount != 2 {
		t.Fatalf("unexpected preview content: %+v", preview)
	}
}

func TestHTTPStoreCounterpartForCoach(t *testing.T) {
	server := newStoreServer(t)
	store := NewHTTPStore(server.URL, "token-1", "20", RoleCoach)

	previews, err := store.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if previews[0].CounterpartID != "10" {
		t.Fatalf("expected subscriber as counterpart for a coach, got %q", previews[0].CounterpartID)
	}
}

func TestHTTPStoreFetchMessagesAscending(t *testing.T) {
	server := newStoreServer(t)
	store := NewHTTPStore(server.URL, "token-1", "10", RoleSubscriber)

	messages, err := store.FetchMessages(context.Background(), "1")
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Fatalf("expected chronological order, got %v", messages)
	}
	if messages[0].Sender != RoleCoach || messages[1].Sender != RoleSubscriber {
		t.Fatalf("expected sender ids folded into roles, got %v", messages)
	}
	if !messages[0].IsRead {
		t.Fatalf("expected read flag carried through")
	}
	want := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if !messages[0].SentAt.Equal(want) {
		t.Fatalf("expected parsed timestamp %v, got %v", want, messages[0].SentAt)
	}
}

func TestHTTPStoreAppendMessage(t *testing.T) {
	server := newStoreServer(t)
	store := NewHTTPStore(server.URL, "token-1", "10", RoleSubscriber)

	message, err := store.AppendMessage(context.Background(), "1", "hello coach")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if message.ID != "101" || message.Content != "hello coach" {
		t.Fatalf("unexpected stored message: %+v", message)
	}
	if message.Sender != RoleSubscriber || message.Pending {
		t.Fatalf("expected confirmed own message, got %+v", message)
	}
}

func TestHTTPStoreRejectsUnexpectedStatus(t *testing.T) {
	server := newStoreServer(t)
	store := NewHTTPStore(server.URL, "wrong-token", "10", RoleSubscriber)

	if _, err := store.ListConversations(context.Background()); err == nil {
		t.Fatalf("expected error for rejected auth")
	}
}
