package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propstack/chatlink/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok-123"}, nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestRooms(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization = %q", got)
		}
		writeJSON(t, w, []roomDTO{{
			ID:          "room1",
			WorkspaceID: "w1",
			UnreadCount: 2,
			Participants: []participantDTO{
				{UserID: "u2", UserType: "client", DisplayName: "Jim"},
			},
			LastMessage: &summaryDTO{Content: "see you", SenderName: "Jim", TS: 1700000000000},
		}})
	})

	rooms, err := c.Rooms(context.Background())
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("len = %d, want 1", len(rooms))
	}
	room := rooms[0]
	if room.ID != "room1" || room.UnreadCount != 2 {
		t.Fatalf("room = %+v", room)
	}
	if len(room.Participants) != 1 || room.Participants[0].UserType != store.UserClient {
		t.Fatalf("participants = %+v", room.Participants)
	}
	if room.LastMessage == nil || !room.LastMessage.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("last message = %+v", room.LastMessage)
	}
}

func TestMessagesPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/room1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("limit") != "50" {
			t.Errorf("query = %v", q)
		}
		writeJSON(t, w, map[string]any{
			"messages": []messageDTO{
				{ID: "m1", ChatID: "room1", SenderID: "u2", Content: "hello", TS: 1700000000000,
					ReadBy: []receiptDTO{{UserID: "u1", ReadAt: 1700000001000}}},
			},
		})
	})

	msgs, err := c.Messages(context.Background(), "room1", 2, 50)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.ID != "m1" || msg.Content != "hello" {
		t.Fatalf("msg = %+v", msg)
	}
	if len(msg.ReadBy) != 1 || msg.ReadBy[0].UserID != "u1" {
		t.Fatalf("readBy = %+v", msg.ReadBy)
	}
}

func TestCreateOrGetRoom(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chats" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["user_id"] != "u2" || payload["user_type"] != "client" {
			t.Errorf("payload = %v", payload)
		}
		writeJSON(t, w, roomDTO{ID: "room1", WorkspaceID: "w1"})
	})

	room, err := c.CreateOrGetRoom(context.Background(), "u2", store.UserClient)
	if err != nil {
		t.Fatalf("create or get: %v", err)
	}
	if room.ID != "room1" {
		t.Fatalf("room = %+v", room)
	}
}

func TestSearchUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "jim" {
			t.Errorf("search = %q", got)
		}
		writeJSON(t, w, []participantDTO{{UserID: "u2", UserType: "client", DisplayName: "Jim"}})
	})

	users, err := c.SearchUsers(context.Background(), "jim")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(users) != 1 || users[0].DisplayName != "Jim" {
		t.Fatalf("users = %+v", users)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(t, w, map[string]any{
			"error": map[string]string{"code": "forbidden", "msg": "not yours"},
		})
	})

	_, err := c.Rooms(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestAPIErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Rooms(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Fatalf("status = %d", apiErr.Status)
	}
}
