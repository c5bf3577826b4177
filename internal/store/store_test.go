package store

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReplaceAndListMessages(t *testing.T) {
	s := openTestStore(t)

	msgs := []CachedMessage{
		{ID: "m1", Role: "user", Text: "hi"},
		{ID: "m2", Role: "assistant", Text: "hello"},
		{ID: "m3", Role: "commandExecution", Command: "go test ./...", CommandStatus: "completed"},
	}
	if err := s.ReplaceMessages("main", msgs); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.ListMessages("main")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i := range msgs {
		if got[i].ID != msgs[i].ID {
			t.Errorf("position %d: id = %q, want %q", i, got[i].ID, msgs[i].ID)
		}
	}
	if got[2].Command != "go test ./..." {
		t.Errorf("command = %q", got[2].Command)
	}
}

func TestReplaceMessagesIsWholesale(t *testing.T) {
	s := openTestStore(t)

	if err := s.ReplaceMessages("main", []CachedMessage{{ID: "old", Role: "user"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceMessages("main", []CachedMessage{{ID: "new", Role: "user"}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListMessages("main")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("messages = %+v, want single id=new", got)
	}
}

func TestMessageScopesAreIsolated(t *testing.T) {
	s := openTestStore(t)

	if err := s.ReplaceMessages("main", []CachedMessage{{ID: "m1", Role: "user"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceMessages("w1", []CachedMessage{{ID: "w1-m1", Role: "user"}}); err != nil {
		t.Fatal(err)
	}

	main, _ := s.ListMessages("main")
	w1, _ := s.ListMessages("w1")
	if len(main) != 1 || main[0].ID != "m1" {
		t.Errorf("main = %+v", main)
	}
	if len(w1) != 1 || w1[0].ID != "w1-m1" {
		t.Errorf("w1 = %+v", w1)
	}
}

func TestReplaceAndListWorktrees(t *testing.T) {
	s := openTestStore(t)

	if err := s.ReplaceWorktrees([]CachedWorktree{
		{ID: "w1", Name: "fix-auth", Branch: "fix/auth", Status: "ready"},
		{ID: "w2", Name: "add-cache", Branch: "feat/cache", Status: "processing"},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.ListWorktrees()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d worktrees, want 2", len(got))
	}

	if err := s.ReplaceWorktrees([]CachedWorktree{{ID: "w2", Name: "add-cache"}}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ListWorktrees()
	if len(got) != 1 || got[0].ID != "w2" {
		t.Errorf("worktrees = %+v, want single id=w2", got)
	}
}

func TestAppState(t *testing.T) {
	s := openTestStore(t)

	if v, err := s.GetState("model"); err != nil || v != "" {
		t.Fatalf("missing key: v=%q err=%v", v, err)
	}
	if err := s.SetState("model", "m-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetState("model", "m-2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetState("model"); v != "m-2" {
		t.Errorf("value = %q, want m-2", v)
	}
}
