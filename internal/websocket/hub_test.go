package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

func eventsRequest(id, token string) *http.Request {
	target := "/api/v1/ingests/" + id + "/events"
	if token != "" {
		target += "?token=" + token
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "orchestrator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestHandleWebSocket_RequiresTokenWhenSecretSet(t *testing.T) {
	h := NewHub(nil, "secret")
	rr := httptest.NewRecorder()
	h.HandleWebSocket(rr, eventsRequest("6f1c2d4e-7a8b-4c9d-8e0f-1a2b3c4d5e6f", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleWebSocket_RejectsWrongSecret(t *testing.T) {
	h := NewHub(nil, "secret")
	rr := httptest.NewRecorder()
	h.HandleWebSocket(rr, eventsRequest("6f1c2d4e-7a8b-4c9d-8e0f-1a2b3c4d5e6f", signedToken(t, "other")))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleWebSocket_InvalidRunID(t *testing.T) {
	h := NewHub(nil, "secret")
	rr := httptest.NewRecorder()
	h.HandleWebSocket(rr, eventsRequest("not-a-uuid", signedToken(t, "secret")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleWebSocket_NoRedis(t *testing.T) {
	h := NewHub(nil, "")
	rr := httptest.NewRecorder()
	h.HandleWebSocket(rr, eventsRequest("6f1c2d4e-7a8b-4c9d-8e0f-1a2b3c4d5e6f", ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
