package engine

import (
	"github.com/skeinhq/skein/internal/protocol"
	"github.com/skeinhq/skein/internal/session"
	"github.com/skeinhq/skein/internal/store"
)

// persist writes a scope's settled messages to the local cache.
// Best-effort: a cache failure is logged and ignored, never surfaced.
func (e *Engine) persist(scope string) {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	l := e.logFor(scope)
	if l == nil {
		e.mu.Unlock()
		return
	}
	msgs := l.Messages()
	e.mu.Unlock()

	rows := make([]store.CachedMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.IsStreaming {
			continue
		}
		rows = append(rows, store.CachedMessage{
			ID:            m.ID,
			Role:          string(m.Role),
			Text:          m.Text,
			Command:       m.Command,
			CommandStatus: string(m.CommandStatus),
			ToolResult:    m.ToolResult,
		})
	}
	if err := e.cache.ReplaceMessages(scope, rows); err != nil {
		e.log.Warn("cache messages", "scope", scope, "err", err)
	}
}

func (e *Engine) persistRegistry() {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	wts := e.registry.List()
	rows := make([]store.CachedWorktree, 0, len(wts))
	for _, w := range wts {
		rows = append(rows, store.CachedWorktree{
			ID:     w.ID,
			Name:   w.Name,
			Branch: w.BranchName,
			Status: string(w.Status),
			Model:  w.Model,
		})
	}
	e.mu.Unlock()

	if err := e.cache.ReplaceWorktrees(rows); err != nil {
		e.log.Warn("cache worktrees", "err", err)
	}
}

const activeScopeKey = "active_scope"

// restore seeds state from the local cache so a fresh start renders the
// last-known transcript before the first resync replaces it.
func (e *Engine) restore() {
	if e.cache == nil {
		return
	}
	wts, err := e.cache.ListWorktrees()
	if err != nil {
		e.log.Warn("restore worktrees", "err", err)
		return
	}
	infos := make([]protocol.WorktreeInfo, 0, len(wts))
	for _, w := range wts {
		infos = append(infos, protocol.WorktreeInfo{
			ID:         w.ID,
			Name:       w.Name,
			BranchName: w.Branch,
			Status:     w.Status,
			Model:      w.Model,
		})
	}

	active, err := e.cache.GetState(activeScopeKey)
	if err != nil {
		e.log.Warn("restore active scope", "err", err)
		active = ""
	}

	e.mu.Lock()
	e.registry.ApplyList(infos)
	e.restoreLogLocked(protocol.MainScope, e.main)
	for _, w := range e.registry.List() {
		e.restoreLogLocked(w.ID, w.Log)
	}
	if active != "" && active != protocol.MainScope {
		if _, ok := e.registry.Get(active); ok {
			e.activeScope = active
		}
	}
	e.mu.Unlock()
}

func (e *Engine) restoreLogLocked(scope string, l *session.Log) {
	rows, err := e.cache.ListMessages(scope)
	if err != nil {
		e.log.Warn("restore messages", "scope", scope, "err", err)
		return
	}
	msgs := make([]session.Message, 0, len(rows))
	for _, r := range rows {
		m := session.Message{
			ID:         r.ID,
			Role:       session.Role(r.Role),
			Text:       r.Text,
			Command:    r.Command,
			ToolResult: r.ToolResult,
		}
		if r.Role == string(session.RoleCommandExecution) {
			m.CommandStatus = session.CommandStatus(r.CommandStatus)
		}
		msgs = append(msgs, m)
	}
	l.Replace(msgs)
}
