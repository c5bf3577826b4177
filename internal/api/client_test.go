package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skeinhq/skein/internal/creds"
	"github.com/skeinhq/skein/internal/protocol"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *creds.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := creds.NewStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	cfg := creds.CoordinatorConfig{
		LockTTL:       time.Second,
		BroadcastWait: 100 * time.Millisecond,
		RetryWait:     20 * time.Millisecond,
	}
	return New(srv.URL, store, creds.NewBroadcast(), cfg, nil), store
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginAdoptsCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email != "dev@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, creds.Credentials{AccessToken: "at-1", RefreshToken: "rt-1"})
	})

	c, _ := newTestClient(t, mux)
	got, err := c.Login(context.Background(), "dev@example.com", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.AccessToken != "at-1" {
		t.Errorf("access token = %q, want at-1", got.AccessToken)
	}
	if cur := c.Coordinator().Current(); cur.AccessToken != "at-1" {
		t.Errorf("coordinator did not adopt login credentials: %+v", cur)
	}
}

func TestSnapshotRefreshesOnceOn401(t *testing.T) {
	var refreshes atomic.Int32
	fresh := ""

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(w, creds.Credentials{AccessToken: fresh, RefreshToken: "rt-2"})
	})
	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"error": "token expired"})
			return
		}
		writeJSON(w, protocol.SessionSnapshot{Model: "m-1"})
	})

	c, store := newTestClient(t, mux)
	// Stale but not near-expiry by claim, so the 401 path is exercised.
	stale := signedJWT(t, time.Now().Add(time.Hour))
	fresh = signedJWT(t, time.Now().Add(2*time.Hour))
	if err := store.SetCredentials(creds.Credentials{AccessToken: stale, RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	c.Coordinator().Adopt(creds.Credentials{AccessToken: stale, RefreshToken: "rt-1"})

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Model != "m-1" {
		t.Errorf("model = %q, want m-1", snap.Model)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refresh endpoint hit %d times, want 1", got)
	}
	if cur := c.Coordinator().Current(); cur.RefreshToken != "rt-2" {
		t.Errorf("coordinator kept stale refresh token: %+v", cur)
	}
}

func TestUnauthorizedAfterRefreshIsLoggedOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, creds.Credentials{AccessToken: signedJWT(t, time.Now().Add(time.Hour)), RefreshToken: "rt-2"})
	})
	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, store := newTestClient(t, mux)
	tok := signedJWT(t, time.Now().Add(time.Hour))
	if err := store.SetCredentials(creds.Credentials{AccessToken: tok, RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	c.Coordinator().Adopt(creds.Credentials{AccessToken: tok, RefreshToken: "rt-1"})

	_, err := c.Snapshot(context.Background())
	if !errors.Is(err, creds.ErrLoggedOut) {
		t.Errorf("err = %v, want ErrLoggedOut", err)
	}
}

func TestRejectedRefreshTokenIsLoggedOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"error": "refresh token revoked"})
	})
	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, store := newTestClient(t, mux)
	tok := signedJWT(t, time.Now().Add(time.Hour))
	if err := store.SetCredentials(creds.Credentials{AccessToken: tok, RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	c.Coordinator().Adopt(creds.Credentials{AccessToken: tok, RefreshToken: "rt-1"})

	_, err := c.Snapshot(context.Background())
	if !errors.Is(err, creds.ErrLoggedOut) {
		t.Errorf("err = %v, want ErrLoggedOut", err)
	}
}

func TestTokenRefreshesProactivelyNearExpiry(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(w, creds.Credentials{AccessToken: signedJWT(t, time.Now().Add(time.Hour)), RefreshToken: "rt-2"})
	})

	c, store := newTestClient(t, mux)
	nearExpiry := signedJWT(t, time.Now().Add(5*time.Second))
	if err := store.SetCredentials(creds.Credentials{AccessToken: nearExpiry, RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	c.Coordinator().Adopt(creds.Credentials{AccessToken: nearExpiry, RefreshToken: "rt-1"})

	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok == nearExpiry {
		t.Error("near-expiry token returned without refresh")
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refresh endpoint hit %d times, want 1", got)
	}
}

func TestTokenWithoutCredentialsIsLoggedOut(t *testing.T) {
	c, _ := newTestClient(t, http.NewServeMux())
	if _, err := c.Token(context.Background()); !errors.Is(err, creds.ErrLoggedOut) {
		t.Errorf("err = %v, want ErrLoggedOut", err)
	}
}

func TestWorktreeMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/worktrees/w1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"messages": []protocol.WireMessage{
			{ID: "m1", Role: "assistant", Text: "hello"},
		}})
	})

	c, store := newTestClient(t, mux)
	tok := signedJWT(t, time.Now().Add(time.Hour))
	if err := store.SetCredentials(creds.Credentials{AccessToken: tok, RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	c.Coordinator().Adopt(creds.Credentials{AccessToken: tok, RefreshToken: "rt-1"})

	msgs, err := c.WorktreeMessages(context.Background(), "w1")
	if err != nil {
		t.Fatalf("worktree messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}
}
