package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rehab/rehab/internal/platform/auth"
)

func doRequest(t *testing.T, h *Handler, userID uuid.UUID, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	ctx := context.WithValue(req.Context(), auth.UserIDKey, userID.String())
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGetConversation(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	body := `{"type":"chat","participant_ids":["` + f.bob.String() + `"]}`
	rec := doRequest(t, h, f.alice, http.MethodPost, "/api/v1/conversations", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var conv Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doRequest(t, h, f.bob, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Outsiders are rejected with 403, not 404.
	rec = doRequest(t, h, f.carol, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider status = %d, want 403", rec.Code)
	}
}

func TestHandler_SendMessageValidation(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	conv := f.conversation(t, f.alice, f.bob)

	rec := doRequest(t, h, f.alice, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages", `{"content":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, h, f.alice, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages", `{"content":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_InvalidIDs(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	rec := doRequest(t, h, f.alice, http.MethodGet, "/api/v1/conversations/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, h, f.alice, http.MethodDelete, "/api/v1/messages/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_UnreadCount(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	conv := f.conversation(t, f.alice, f.bob)

	if _, err := f.svc.SendMessage(context.Background(), f.alice, conv.ID, "hello", MessageText, nil, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	rec := doRequest(t, h, f.bob, http.MethodGet, "/api/v1/unread-count", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["unread_count"] != 1 {
		t.Errorf("unread_count = %d, want 1", out["unread_count"])
	}
}

func TestHandler_SyncRejectsBadTimestamp(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	rec := doRequest(t, h, f.alice, http.MethodGet, "/api/v1/sync?last_sync_time=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_MessagesCursor(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	conv := f.conversation(t, f.alice, f.bob)

	var last *Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.svc.SendMessage(context.Background(), f.alice, conv.ID, text, MessageText, nil, nil)
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		last = msg
	}

	rec := doRequest(t, h, f.bob, http.MethodGet,
		"/api/v1/conversations/"+conv.ID.String()+"/messages?before_id="+last.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Data []*Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data) != 2 {
		t.Fatalf("page = %d messages, want 2", len(out.Data))
	}
	if out.Data[0].Content != "two" {
		t.Errorf("newest on page = %q, want %q", out.Data[0].Content, "two")
	}
}
