package session

import "github.com/skeinhq/skein/internal/protocol"

type WorktreeStatus string

const (
	WorktreeCreating   WorktreeStatus = "creating"
	WorktreeReady      WorktreeStatus = "ready"
	WorktreeProcessing WorktreeStatus = "processing"
	WorktreeMerging    WorktreeStatus = "merging"
	WorktreeError      WorktreeStatus = "error"
	WorktreeCompleted  WorktreeStatus = "completed"
)

// Worktree is one independently progressing work stream with its own log.
type Worktree struct {
	ID              string
	Name            string
	BranchName      string
	Provider        string
	Status          WorktreeStatus
	Model           string
	ReasoningEffort string
	Activity        string
	CurrentTurnID   string
	Log             *Log
}

func worktreeFromInfo(info protocol.WorktreeInfo) *Worktree {
	return &Worktree{
		ID:              info.ID,
		Name:            info.Name,
		BranchName:      info.BranchName,
		Provider:        info.Provider,
		Status:          WorktreeStatus(info.Status),
		Model:           info.Model,
		ReasoningEffort: info.ReasoningEffort,
		Activity:        info.Activity,
		CurrentTurnID:   info.CurrentTurnID,
		Log:             NewLog(),
	}
}

// Registry is the authoritative mapping of active work streams, kept
// consistent with server-pushed list/created/removed events. Mutators for
// a single record are no-ops on unknown ids so races with removal never
// fail.
type Registry struct {
	order []string
	items map[string]*Worktree
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Worktree)}
}

func (r *Registry) Len() int { return len(r.order) }

func (r *Registry) Get(id string) (*Worktree, bool) {
	w, ok := r.items[id]
	return w, ok
}

// List returns the registry's worktrees in server list order.
func (r *Registry) List() []*Worktree {
	out := make([]*Worktree, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// ApplyList replaces the registry wholesale. No stale entry survives, but
// the message log of a worktree present in both old and new state is
// carried over so a list refresh never loses transcript history.
func (r *Registry) ApplyList(list []protocol.WorktreeInfo) {
	items := make(map[string]*Worktree, len(list))
	order := make([]string, 0, len(list))
	for _, info := range list {
		if info.ID == "" {
			continue
		}
		if _, dup := items[info.ID]; dup {
			continue
		}
		w := worktreeFromInfo(info)
		if prev, ok := r.items[info.ID]; ok {
			w.Log = prev.Log
		}
		items[info.ID] = w
		order = append(order, info.ID)
	}
	r.items = items
	r.order = order
}

// UpsertOnCreated inserts a worktree from a created event, or refreshes
// the record if an optimistic local insert already claimed the id.
func (r *Registry) UpsertOnCreated(info protocol.WorktreeInfo) {
	if info.ID == "" {
		return
	}
	w := worktreeFromInfo(info)
	if prev, ok := r.items[info.ID]; ok {
		w.Log = prev.Log
		r.items[info.ID] = w
		return
	}
	r.items[info.ID] = w
	r.order = append(r.order, info.ID)
}

func (r *Registry) MarkReady(id string) {
	if w, ok := r.items[id]; ok {
		w.Status = WorktreeReady
	}
}

func (r *Registry) ApplyStatus(id string, status WorktreeStatus, activity, turnID string) {
	w, ok := r.items[id]
	if !ok {
		return
	}
	w.Status = status
	w.Activity = activity
	if turnID != "" {
		w.CurrentTurnID = turnID
	}
}

func (r *Registry) SetModel(id, model, reasoningEffort string) {
	if w, ok := r.items[id]; ok {
		w.Model = model
		w.ReasoningEffort = reasoningEffort
	}
}

// Remove drops the worktree. Returns true if it existed.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Rename(id, name string) {
	if w, ok := r.items[id]; ok {
		w.Name = name
	}
}
