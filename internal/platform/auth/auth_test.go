package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, subject string, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(Config{SigningKey: testSecret}, false)
	uid, err := v.Verify(signToken(t, "user-42", testSecret))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if uid != "user-42" {
		t.Fatalf("uid = %q", uid)
	}
}

func TestVerify_BadSignature(t *testing.T) {
	v := NewVerifier(Config{SigningKey: testSecret}, false)
	if _, err := v.Verify(signToken(t, "user-42", []byte("other-secret"))); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestVerify_MissingToken(t *testing.T) {
	v := NewVerifier(Config{SigningKey: testSecret}, false)
	if _, err := v.Verify(""); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestVerify_DevFallback(t *testing.T) {
	v := NewVerifier(Config{}, true)
	uid, err := v.Verify("")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if uid != DevUserID {
		t.Fatalf("uid = %q", uid)
	}
}

func TestMiddleware_SetsUserOnContext(t *testing.T) {
	v := NewVerifier(Config{SigningKey: testSecret}, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-7", testSecret))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "user-7" {
			t.Errorf("uid = %q", uid)
		}
		return c.NoContent(http.StatusOK)
	}

	if err := v.Middleware()(handler)(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
}

func TestMiddleware_RejectsMalformedHeader(t *testing.T) {
	v := NewVerifier(Config{SigningKey: testSecret}, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abcdef")
	c := e.NewContext(req, httptest.NewRecorder())

	err := v.Middleware()(func(c echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
