package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skeinhq/skein/internal/api"
	"github.com/skeinhq/skein/internal/creds"
	"github.com/skeinhq/skein/internal/protocol"
	"github.com/skeinhq/skein/internal/session"
	"github.com/skeinhq/skein/internal/store"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Options{})
}

func seedWorktree(e *Engine, id string) {
	e.HandleWorktreeCreated(protocol.WorktreeInfo{ID: id, Name: id, Status: "ready"})
}

func TestDeltasThenFinalConvergePerScope(t *testing.T) {
	e := newEngine(t)
	seedWorktree(e, "w1")

	e.HandleAssistantDelta(protocol.MainScope, "a1", "Hel")
	e.HandleAssistantDelta(protocol.MainScope, "a1", "lo")
	e.HandleAssistantDelta("w1", "b1", "wor")
	e.HandleAssistantMessage(protocol.MainScope, "a1", "Hello")
	e.HandleAssistantDelta("w1", "b1", "king")
	e.HandleAssistantMessage("w1", "b1", "working")

	main := e.Messages(protocol.MainScope)
	if len(main) != 1 || main[0].Text != "Hello" || main[0].IsStreaming {
		t.Errorf("main = %+v", main)
	}
	w1 := e.Messages("w1")
	if len(w1) != 1 || w1[0].Text != "working" || w1[0].IsStreaming {
		t.Errorf("w1 = %+v", w1)
	}
}

func TestEventsForUnknownScopeAreDropped(t *testing.T) {
	e := newEngine(t)

	e.HandleAssistantDelta("ghost", "a1", "boo")
	e.HandleWorktreeMessages("ghost", []protocol.WireMessage{{ID: "m1", Role: "user"}})

	if got := e.Messages(protocol.MainScope); len(got) != 0 {
		t.Errorf("unknown-scope event leaked into main: %+v", got)
	}
	if got := e.Messages("ghost"); got != nil {
		t.Errorf("ghost scope materialized: %+v", got)
	}
}

func TestRemovedActiveWorktreeFallsBackToMain(t *testing.T) {
	e := newEngine(t)
	seedWorktree(e, "w1")
	e.SetActiveScope("w1")
	if e.ActiveScope() != "w1" {
		t.Fatalf("active = %q, want w1", e.ActiveScope())
	}

	e.HandleWorktreeRemoved("w1")

	if e.ActiveScope() != protocol.MainScope {
		t.Errorf("active = %q, want main", e.ActiveScope())
	}
	if len(e.Worktrees()) != 0 {
		t.Errorf("registry still has %d entries", len(e.Worktrees()))
	}
	// Straggler events for the removed scope are harmless.
	e.HandleAssistantDelta("w1", "a1", "late")
	e.HandleWorktreeStatus(protocol.WorktreeStatusEvent{WorktreeID: "w1", Status: "ready"})
}

func TestWorktreesListReplacesWholesaleAndKeepsLogs(t *testing.T) {
	e := newEngine(t)
	seedWorktree(e, "w1")
	seedWorktree(e, "w2")
	e.HandleAssistantMessage("w1", "a1", "kept")

	e.HandleWorktreesList([]protocol.WorktreeInfo{
		{ID: "w1", Name: "renamed", Status: "processing"},
		{ID: "w3", Name: "new", Status: "creating"},
	})

	wts := e.Worktrees()
	if len(wts) != 2 || wts[0].ID != "w1" || wts[1].ID != "w3" {
		t.Fatalf("worktrees = %+v", wts)
	}
	if msgs := e.Messages("w1"); len(msgs) != 1 || msgs[0].Text != "kept" {
		t.Errorf("w1 log lost across list refresh: %+v", msgs)
	}
	if e.Messages("w2") != nil {
		t.Error("removed worktree still resolvable")
	}
}

func TestListRemovingActiveWorktreeFallsBackToMain(t *testing.T) {
	e := newEngine(t)
	seedWorktree(e, "w1")
	e.SetActiveScope("w1")

	e.HandleWorktreesList(nil)

	if e.ActiveScope() != protocol.MainScope {
		t.Errorf("active = %q, want main", e.ActiveScope())
	}
}

func TestRepeatedErrorEventsDeduplicate(t *testing.T) {
	e := newEngine(t)

	e.HandleServerError(protocol.MainScope, "rate limited")
	e.HandleServerError(protocol.MainScope, "rate limited")
	e.HandleTurnError(protocol.MainScope, "rate limited")

	msgs := e.Messages(protocol.MainScope)
	if len(msgs) != 1 {
		t.Fatalf("got %d error messages, want 1: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != session.RoleError {
		t.Errorf("role = %q", msgs[0].Role)
	}

	e.HandleServerError(protocol.MainScope, "disk full")
	if got := e.Messages(protocol.MainScope); len(got) != 2 {
		t.Errorf("distinct error collapsed: %+v", got)
	}
}

func TestTurnErrorClearsTurnPerScope(t *testing.T) {
	e := newEngine(t)
	seedWorktree(e, "w1")

	e.HandleTurnStarted(protocol.MainScope, "t-main")
	e.HandleTurnStarted("w1", "t-w1")
	if e.CurrentTurnID() != "t-main" {
		t.Fatalf("main turn = %q", e.CurrentTurnID())
	}

	e.HandleTurnError("w1", "provider exploded")
	for _, w := range e.Worktrees() {
		if w.ID == "w1" && w.CurrentTurnID != "" {
			t.Errorf("worktree turn id = %q, want cleared", w.CurrentTurnID)
		}
	}
	if e.CurrentTurnID() != "t-main" {
		t.Errorf("worktree turn_error touched the main turn: %q", e.CurrentTurnID())
	}

	e.HandleTurnError(protocol.MainScope, "main exploded")
	if e.CurrentTurnID() != "" {
		t.Errorf("main turn id = %q, want cleared", e.CurrentTurnID())
	}
}

func TestSessionSyncReplacesMainLog(t *testing.T) {
	e := newEngine(t)
	e.HandleAssistantMessage(protocol.MainScope, "stale", "old state")

	e.HandleSessionSync(protocol.SessionSnapshot{
		Messages: []protocol.WireMessage{
			{ID: "m1", Role: "user", Text: "hi"},
			{ID: "m2", Role: "assistant", Text: "hello"},
		},
		Model:         "m-9",
		Provider:      "anthropic",
		CurrentTurnID: "t-1",
	})

	msgs := e.Messages(protocol.MainScope)
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("main = %+v", msgs)
	}
	if model, _ := e.Model(); model != "m-9" {
		t.Errorf("model = %q", model)
	}
	if e.Provider() != "anthropic" {
		t.Errorf("provider = %q", e.Provider())
	}
	if e.CurrentTurnID() != "t-1" {
		t.Errorf("turn = %q", e.CurrentTurnID())
	}
}

func TestWorktreeMessagesMergeIdempotently(t *testing.T) {
	e := newEngine(t)
	seedWorktree(e, "w1")

	batch := []protocol.WireMessage{
		{ID: "m1", Role: "user", Text: "a"},
		{ID: "m2", Role: "assistant", Text: "b"},
	}
	e.HandleWorktreeMessages("w1", batch)
	e.HandleWorktreeMessages("w1", batch)
	e.HandleWorktreeMessages("w1", append(batch, protocol.WireMessage{ID: "m3", Role: "user", Text: "c"}))

	msgs := e.Messages("w1")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("position %d: id = %q, want %q", i, msgs[i].ID, want)
		}
	}
}

func TestCommandExecutionLifecycle(t *testing.T) {
	e := newEngine(t)

	e.HandleCommandExecutionDelta(protocol.MainScope, "c1", "compiling")
	e.HandleCommandExecutionDelta(protocol.MainScope, "c1", "...\n")
	e.HandleCommandExecutionCompleted(protocol.MainScope, "c1", protocol.CommandExecutionItem{
		Command: "make build",
		Output:  "ok",
		Status:  "completed",
	})

	msgs := e.Messages(protocol.MainScope)
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Command != "make build" || msgs[0].Text != "ok" {
		t.Errorf("command record = %+v", msgs[0])
	}
	if msgs[0].CommandStatus != session.CommandCompleted {
		t.Errorf("status = %q", msgs[0].CommandStatus)
	}
}

func TestActionRequestLifecycle(t *testing.T) {
	e := newEngine(t)

	e.HandleActionRequest(protocol.MainScope, protocol.ActionRequest{ID: "act-1", Request: "approve_edit"})
	if got := e.PendingActions(); len(got) != 1 || got[0].ID != "act-1" {
		t.Fatalf("pending = %+v", got)
	}

	e.HandleActionResult(protocol.MainScope, protocol.ActionResult{
		ID: "act-1", Request: "approve_edit", Status: "approved", Output: "applied",
	})
	if got := e.PendingActions(); len(got) != 0 {
		t.Errorf("pending after result = %+v", got)
	}
	msgs := e.Messages(protocol.MainScope)
	if len(msgs) != 1 || msgs[0].Role != session.RoleToolResult {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestRestoreFromCache(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	first := New(Options{Cache: s})
	seedWorktree(first, "w1")
	first.HandleSessionSync(protocol.SessionSnapshot{
		Messages: []protocol.WireMessage{{ID: "m1", Role: "user", Text: "persisted"}},
	})
	first.HandleWorktreeMessages("w1", []protocol.WireMessage{{ID: "wm1", Role: "assistant", Text: "also persisted"}})
	first.SetActiveScope("w1")
	s.Close()

	s2, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s2.Close() })

	second := New(Options{Cache: s2})
	if msgs := second.Messages(protocol.MainScope); len(msgs) != 1 || msgs[0].Text != "persisted" {
		t.Errorf("main after restart = %+v", msgs)
	}
	if msgs := second.Messages("w1"); len(msgs) != 1 || msgs[0].Text != "also persisted" {
		t.Errorf("w1 after restart = %+v", msgs)
	}
	if second.ActiveScope() != "w1" {
		t.Errorf("active scope after restart = %q, want w1", second.ActiveScope())
	}
}

func TestResyncReplacesStateFromHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.SessionSnapshot{
			Messages: []protocol.WireMessage{{ID: "m1", Role: "user", Text: "authoritative"}},
			Model:    "m-1",
		})
	})
	mux.HandleFunc("GET /v1/worktrees", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"worktrees": []protocol.WorktreeInfo{{ID: "w1", Name: "fix", Status: "ready"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	credStore := creds.NewStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	client := api.New(srv.URL, credStore, creds.NewBroadcast(), creds.CoordinatorConfig{}, nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	client.Coordinator().Adopt(creds.Credentials{AccessToken: signed, RefreshToken: "rt"})

	e := New(Options{API: client})
	e.HandleAssistantMessage(protocol.MainScope, "stale", "pre-resync")

	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	msgs := e.Messages(protocol.MainScope)
	if len(msgs) != 1 || msgs[0].Text != "authoritative" {
		t.Errorf("main = %+v", msgs)
	}
	if wts := e.Worktrees(); len(wts) != 1 || wts[0].ID != "w1" {
		t.Errorf("worktrees = %+v", wts)
	}
	if model, _ := e.Model(); model != "m-1" {
		t.Errorf("model = %q", model)
	}
}
