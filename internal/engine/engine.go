package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/skeinhq/skein/internal/api"
	"github.com/skeinhq/skein/internal/conn"
	"github.com/skeinhq/skein/internal/protocol"
	"github.com/skeinhq/skein/internal/session"
	"github.com/skeinhq/skein/internal/store"
)

// Engine owns the client-side session state: the main transcript, the
// work-stream registry, and per-scope provider/model state. It consumes
// every channel event and reconciles toward what the server holds; local
// writes are optimistic and reconciled away by the next authoritative
// event for the same id.
type Engine struct {
	api   *api.Client
	cache *store.Store
	log   *slog.Logger

	mu          sync.Mutex
	mgr         *conn.Manager
	main        *session.Log
	registry    *session.Registry
	activeScope string

	model           string
	reasoningEffort string
	provider        string
	currentTurnID   string
	statusLine      string
	models          []string
	providerStates  map[string]string
	pendingActions  map[string]protocol.ActionRequest
	diffs           map[string]string

	onUpdate func()
}

// Options configures an Engine. Cache is optional; without it state is
// memory-only and every start begins empty until the first resync.
type Options struct {
	API      *api.Client
	Cache    *store.Store
	Logger   *slog.Logger
	OnUpdate func()
}

func New(opts Options) *Engine {
	e := &Engine{
		api:            opts.API,
		cache:          opts.Cache,
		log:            opts.Logger,
		main:           session.NewLog(),
		registry:       session.NewRegistry(),
		activeScope:    protocol.MainScope,
		providerStates: make(map[string]string),
		pendingActions: make(map[string]protocol.ActionRequest),
		diffs:          make(map[string]string),
		onUpdate:       opts.OnUpdate,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.restore()
	return e
}

// Attach wires the channel manager the engine resyncs through. Must be
// called before Start on the manager.
func (e *Engine) Attach(mgr *conn.Manager) {
	e.mu.Lock()
	e.mgr = mgr
	e.mu.Unlock()
}

// ActiveScope returns the scope the user is currently viewing.
func (e *Engine) ActiveScope() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeScope
}

// SetActiveScope switches the viewed scope. Unknown worktree ids fall
// back to the main scope. The selection is persisted so a restart
// reopens the same view.
func (e *Engine) SetActiveScope(scope string) {
	e.mu.Lock()
	if scope == "" || scope == protocol.MainScope {
		e.activeScope = protocol.MainScope
	} else if _, ok := e.registry.Get(scope); ok {
		e.activeScope = scope
	} else {
		e.activeScope = protocol.MainScope
	}
	active := e.activeScope
	e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.SetState(activeScopeKey, active); err != nil {
			e.log.Warn("persist active scope", "err", err)
		}
	}
	e.notify()
}

// Messages returns the transcript for scope in log order.
func (e *Engine) Messages(scope string) []session.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.logFor(scope)
	if l == nil {
		return nil
	}
	return l.Messages()
}

// Worktrees returns the registry contents in server order.
func (e *Engine) Worktrees() []*session.Worktree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.List()
}

// Model returns the main-scope model selection.
func (e *Engine) Model() (model, reasoningEffort string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model, e.reasoningEffort
}

func (e *Engine) Provider() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider
}

func (e *Engine) StatusLine() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLine
}

func (e *Engine) Models() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.models))
	copy(out, e.models)
	return out
}

func (e *Engine) CurrentTurnID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTurnID
}

// PendingActions returns server actions awaiting a result, in no
// particular order.
func (e *Engine) PendingActions() []protocol.ActionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.ActionRequest, 0, len(e.pendingActions))
	for _, a := range e.pendingActions {
		out = append(out, a)
	}
	return out
}

// Diff returns the last pushed diff for scope, "" if none.
func (e *Engine) Diff(scope string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.diffs[scope]
}

// SendMessage appends the user's message optimistically and sends it. The
// local entry carries a synthetic id; the server's echo arrives with its
// own id and merges alongside until the next snapshot replaces the log.
func (e *Engine) SendMessage(scope, text string, attachments []protocol.Attachment) error {
	e.mu.Lock()
	l := e.logFor(scope)
	if l == nil {
		e.mu.Unlock()
		return fmt.Errorf("unknown scope %q", scope)
	}
	l.Append(session.Message{Role: session.RoleUser, Text: text, Attachments: attachments})
	mgr := e.mgr
	e.mu.Unlock()
	e.notify()

	if mgr == nil {
		return fmt.Errorf("not connected")
	}
	if scope == protocol.MainScope {
		return mgr.SendUserMessage(text, attachments)
	}
	return mgr.SendWorktreeMessage(scope, text, attachments)
}

// Resync reconciles against the authoritative HTTP state. Called after
// every authentication and foreground transition: snapshot replaces the
// main log, the worktree list replaces the registry, and each surviving
// worktree gets an incremental merge request over the channel.
func (e *Engine) Resync(ctx context.Context) error {
	snap, err := e.api.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	list, err := e.api.Worktrees(ctx)
	if err != nil {
		return fmt.Errorf("fetch worktrees: %w", err)
	}

	e.mu.Lock()
	e.main.Replace(session.FromWireBatch(snap.Messages))
	e.applySnapshotMetaLocked(snap)
	e.registry.ApplyList(list)
	if e.activeScope != protocol.MainScope {
		if _, ok := e.registry.Get(e.activeScope); !ok {
			e.activeScope = protocol.MainScope
		}
	}
	mgr := e.mgr
	type syncReq struct{ id, lastID string }
	reqs := make([]syncReq, 0, e.registry.Len())
	for _, w := range e.registry.List() {
		reqs = append(reqs, syncReq{id: w.ID, lastID: w.Log.LastID()})
	}
	e.mu.Unlock()

	if mgr != nil {
		for _, r := range reqs {
			if err := mgr.SyncWorktreeMessages(r.id, r.lastID); err != nil {
				e.log.Warn("worktree sync request failed", "worktree", r.id, "err", err)
			}
		}
	}

	e.persist(protocol.MainScope)
	e.persistRegistry()
	e.notify()
	return nil
}

func (e *Engine) applySnapshotMetaLocked(snap *protocol.SessionSnapshot) {
	if snap.Model != "" {
		e.model = snap.Model
		e.reasoningEffort = snap.ReasoningEffort
	}
	if snap.Provider != "" {
		e.provider = snap.Provider
	}
	e.currentTurnID = snap.CurrentTurnID
}

// logFor resolves a scope to its log. Returns nil for an unknown
// worktree; callers drop the event.
func (e *Engine) logFor(scope string) *session.Log {
	if scope == "" || scope == protocol.MainScope {
		return e.main
	}
	if w, ok := e.registry.Get(scope); ok {
		return w.Log
	}
	return nil
}

func (e *Engine) notify() {
	if e.onUpdate != nil {
		e.onUpdate()
	}
}

// errorMessageID derives a stable id from the error content so replayed
// error events deduplicate inside the log instead of stacking up.
func errorMessageID(scope, message string) string {
	h := fnv.New64a()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return fmt.Sprintf("err-%x", h.Sum64())
}
