package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func ctxWithQuery(t *testing.T, query string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestFromContextDefaults(t *testing.T) {
	p := FromContext(ctxWithQuery(t, ""))
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Fatalf("got %+v", p)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := FromContext(ctxWithQuery(t, "limit=9999&offset=40"))
	if p.Limit != MaxLimit {
		t.Fatalf("limit = %d, want %d", p.Limit, MaxLimit)
	}
	if p.Offset != 40 {
		t.Fatalf("offset = %d", p.Offset)
	}
}

func TestCursorFromContext(t *testing.T) {
	id := uuid.New()
	cur := CursorFromContext(ctxWithQuery(t, "limit=5&before_id="+id.String()))
	if cur.Limit != 5 {
		t.Fatalf("limit = %d", cur.Limit)
	}
	if cur.BeforeID == nil || *cur.BeforeID != id {
		t.Fatalf("before_id = %v", cur.BeforeID)
	}
}

func TestCursorIgnoresBadBeforeID(t *testing.T) {
	cur := CursorFromContext(ctxWithQuery(t, "before_id=not-a-uuid"))
	if cur.BeforeID != nil {
		t.Fatalf("expected nil cursor, got %v", cur.BeforeID)
	}
	if cur.Limit != DefaultLimit {
		t.Fatalf("limit = %d", cur.Limit)
	}
}

func TestNewResponseHasMore(t *testing.T) {
	r := NewResponse(nil, 50, 20, 0)
	if !r.HasMore {
		t.Fatal("expected has_more")
	}
	r = NewResponse(nil, 50, 20, 40)
	if r.HasMore {
		t.Fatal("expected no more")
	}
}
