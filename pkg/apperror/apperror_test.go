package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("participant %s does not exist", "u1"), KindValidation},
		{"authorization", Authorization("not a participant"), KindAuthorization},
		{"not found", NotFound("conversation not found"), KindNotFound},
		{"wrapped", fmt.Errorf("handler: %w", NotFound("message not found")), KindNotFound},
		{"plain", errors.New("boom"), KindInternal},
		{"nil inner", Internal("query failed", errors.New("conn reset")), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(Validation("bad input")); got != http.StatusBadRequest {
		t.Fatalf("validation status = %d", got)
	}
	if got := HTTPStatus(Authorization("nope")); got != http.StatusForbidden {
		t.Fatalf("authorization status = %d", got)
	}
	if got := HTTPStatus(NotFound("gone")); got != http.StatusNotFound {
		t.Fatalf("not found status = %d", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("unknown status = %d", got)
	}
}

func TestMessageHidesInternals(t *testing.T) {
	if got := Message(Internal("db down", errors.New("dial tcp"))); got != "internal server error" {
		t.Fatalf("internal message leaked: %q", got)
	}
	if got := Message(NotFound("message not found")); got != "message not found" {
		t.Fatalf("4xx message = %q", got)
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("service: %w", Authorization("only the sender may delete"))
	if !errors.Is(err, &Error{Kind: KindAuthorization}) {
		t.Fatal("expected kind match")
	}
	if errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Fatal("unexpected kind match")
	}
}
