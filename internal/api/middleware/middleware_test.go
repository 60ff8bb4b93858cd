package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var secret = []byte("s3cret")

func okHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	WriteJSON(w, http.StatusOK, map[string]string{"user": p.UserID})
}

func TestAuth(t *testing.T) {
	good, err := SignToken(secret, "ledger", "u1", "u1@example.com", time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	wrongIssuer, _ := SignToken(secret, "someone-else", "u1", "", time.Hour)
	expired, _ := SignToken(secret, "ledger", "u1", "", -time.Minute)
	noSubject, _ := SignToken(secret, "ledger", "", "", time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + good, want: http.StatusOK},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic " + good, want: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + wrongIssuer, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + noSubject, want: http.StatusUnauthorized},
	}

	h := Auth(secret, "ledger")(http.HandlerFunc(okHandler))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type mockChecker struct {
	IsMemberFunc func(ctx context.Context, workspaceID, userID string) (bool, error)
}

func (m *mockChecker) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	return m.IsMemberFunc(ctx, workspaceID, userID)
}

func TestRequireMember(t *testing.T) {
	checker := &mockChecker{IsMemberFunc: func(ctx context.Context, workspaceID, userID string) (bool, error) {
		if workspaceID == "broken" {
			return false, errors.New("db down")
		}
		return workspaceID == "ws-1" && userID == "u1", nil
	}}

	r := chi.NewRouter()
	r.With(RequireMember(checker, "ws")).Get("/w/{ws}", okHandler)

	tests := []struct {
		name string
		user string
		path string
		want int
	}{
		{name: "member", user: "u1", path: "/w/ws-1", want: http.StatusOK},
		{name: "not a member", user: "u2", path: "/w/ws-1", want: http.StatusForbidden},
		{name: "anonymous", user: "", path: "/w/ws-1", want: http.StatusUnauthorized},
		{name: "checker error", user: "u1", path: "/w/broken", want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: tt.user}))
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("request id = %q / %q, want abc", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc" {
		t.Errorf("generated request id = %q", seen)
	}
}
