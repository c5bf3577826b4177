package engine

import (
	"github.com/skeinhq/skein/internal/protocol"
	"github.com/skeinhq/skein/internal/session"
)

// Engine satisfies conn.Handler. Every handler takes the lock, mutates,
// and notifies; events for unknown worktree scopes are dropped because a
// removal may race the last in-flight events for that scope.

func (e *Engine) HandleStatus(scope, message string) {
	e.mu.Lock()
	if scope == protocol.MainScope {
		e.statusLine = message
	} else {
		e.registry.ApplyStatus(scope, session.WorktreeProcessing, message, "")
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleReady(scope string) {
	e.mu.Lock()
	if scope == protocol.MainScope {
		e.statusLine = ""
	} else {
		e.registry.MarkReady(scope)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleProviderStatus(msg protocol.ProviderStatus) {
	e.mu.Lock()
	e.providerStates[msg.Provider] = msg.State
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleAssistantDelta(scope, itemID, delta string) {
	e.withLog(scope, func(l *session.Log) {
		l.ApplyDelta(itemID, delta)
	})
}

func (e *Engine) HandleAssistantMessage(scope, itemID, text string) {
	e.withLog(scope, func(l *session.Log) {
		l.Finalize(itemID, text)
	})
	e.persist(scope)
}

func (e *Engine) HandleActionRequest(scope string, msg protocol.ActionRequest) {
	e.mu.Lock()
	e.pendingActions[msg.ID] = msg
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleActionResult(scope string, msg protocol.ActionResult) {
	e.mu.Lock()
	delete(e.pendingActions, msg.ID)
	l := e.logFor(scope)
	if l != nil && msg.Output != "" {
		l.Append(session.Message{
			ID:         "action-" + msg.ID,
			Role:       session.RoleToolResult,
			Text:       msg.Output,
			ToolResult: msg.Status,
		})
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleBacklogView(scope string, msg protocol.BacklogView) {
	e.withLog(scope, func(l *session.Log) {
		text := ""
		for i, item := range msg.Items {
			if i > 0 {
				text += "\n"
			}
			text += item
		}
		l.Finalize(msg.ID, text)
	})
}

func (e *Engine) HandleCommandExecutionDelta(scope, itemID, delta string) {
	e.withLog(scope, func(l *session.Log) {
		l.ApplyCommandDelta(itemID, delta)
	})
}

func (e *Engine) HandleCommandExecutionCompleted(scope, itemID string, item protocol.CommandExecutionItem) {
	e.withLog(scope, func(l *session.Log) {
		l.CompleteCommand(itemID, item)
	})
	e.persist(scope)
}

func (e *Engine) HandleTurnStarted(scope, turnID string) {
	e.mu.Lock()
	if scope == protocol.MainScope {
		e.currentTurnID = turnID
	} else {
		e.registry.ApplyStatus(scope, session.WorktreeProcessing, "", turnID)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleTurnCompleted(scope string, msg protocol.TurnCompleted) {
	e.mu.Lock()
	if scope == protocol.MainScope {
		e.currentTurnID = ""
	} else {
		e.registry.ApplyStatus(scope, session.WorktreeReady, "", "")
		if w, ok := e.registry.Get(scope); ok {
			w.CurrentTurnID = ""
		}
	}
	if msg.Error != "" {
		if l := e.logFor(scope); l != nil {
			l.Append(session.Message{
				ID:   errorMessageID(scope, msg.Error),
				Role: session.RoleError,
				Text: msg.Error,
			})
		}
	}
	e.mu.Unlock()
	e.persist(scope)
	e.notify()
}

func (e *Engine) HandleTurnError(scope, message string) {
	e.withLog(scope, func(l *session.Log) {
		l.Append(session.Message{
			ID:   errorMessageID(scope, message),
			Role: session.RoleError,
			Text: message,
		})
	})
	e.mu.Lock()
	if scope == protocol.MainScope {
		e.currentTurnID = ""
	} else if w, ok := e.registry.Get(scope); ok {
		w.CurrentTurnID = ""
	}
	e.mu.Unlock()
}

func (e *Engine) HandleModelList(msg protocol.ModelList) {
	e.mu.Lock()
	e.models = msg.Models
	if msg.Provider != "" {
		e.provider = msg.Provider
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleModelSet(scope, model, reasoningEffort string) {
	e.mu.Lock()
	if scope == protocol.MainScope {
		e.model = model
		e.reasoningEffort = reasoningEffort
	} else {
		e.registry.SetModel(scope, model, reasoningEffort)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleSessionSync(snapshot protocol.SessionSnapshot) {
	e.mu.Lock()
	e.main.Replace(session.FromWireBatch(snapshot.Messages))
	e.applySnapshotMetaLocked(&snapshot)
	e.mu.Unlock()
	e.persist(protocol.MainScope)
	e.notify()
}

func (e *Engine) HandleWorktreesList(list []protocol.WorktreeInfo) {
	e.mu.Lock()
	e.registry.ApplyList(list)
	if e.activeScope != protocol.MainScope {
		if _, ok := e.registry.Get(e.activeScope); !ok {
			e.activeScope = protocol.MainScope
		}
	}
	e.mu.Unlock()
	e.persistRegistry()
	e.notify()
}

func (e *Engine) HandleWorktreeMessages(worktreeID string, messages []protocol.WireMessage) {
	e.withLog(worktreeID, func(l *session.Log) {
		l.Merge(session.FromWireBatch(messages))
	})
	e.persist(worktreeID)
}

func (e *Engine) HandleWorktreeDiff(msg protocol.WorktreeDiff) {
	e.mu.Lock()
	e.diffs[msg.WorktreeID] = msg.Diff
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleWorktreeCreated(info protocol.WorktreeInfo) {
	e.mu.Lock()
	e.registry.UpsertOnCreated(info)
	e.mu.Unlock()
	e.persistRegistry()
	e.notify()
}

func (e *Engine) HandleWorktreeReady(worktreeID string) {
	e.mu.Lock()
	e.registry.MarkReady(worktreeID)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleWorktreeStatus(msg protocol.WorktreeStatusEvent) {
	e.mu.Lock()
	e.registry.ApplyStatus(msg.WorktreeID, session.WorktreeStatus(msg.Status), msg.Activity, msg.TurnID)
	e.mu.Unlock()
	e.notify()
}

// HandleWorktreeRemoved drops the work stream. A viewer parked on the
// removed scope falls back to the main scope.
func (e *Engine) HandleWorktreeRemoved(worktreeID string) {
	e.mu.Lock()
	removed := e.registry.Remove(worktreeID)
	if removed && e.activeScope == worktreeID {
		e.activeScope = protocol.MainScope
	}
	delete(e.diffs, worktreeID)
	e.mu.Unlock()
	if removed {
		e.persistRegistry()
		e.notify()
	}
}

func (e *Engine) HandleWorktreeRenamed(worktreeID, name string) {
	e.mu.Lock()
	e.registry.Rename(worktreeID, name)
	e.mu.Unlock()
	e.persistRegistry()
	e.notify()
}

func (e *Engine) HandleRepoDiff(msg protocol.RepoDiff) {
	e.mu.Lock()
	e.diffs[protocol.MainScope] = msg.Diff
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) HandleServerError(scope, message string) {
	e.withLog(scope, func(l *session.Log) {
		l.Append(session.Message{
			ID:   errorMessageID(scope, message),
			Role: session.RoleError,
			Text: message,
		})
	})
}

// withLog runs fn on the resolved scope's log under the lock, then
// notifies. Unknown scopes are dropped.
func (e *Engine) withLog(scope string, fn func(*session.Log)) {
	e.mu.Lock()
	l := e.logFor(scope)
	if l == nil {
		e.mu.Unlock()
		e.log.Debug("event for unknown scope dropped", "scope", scope)
		return
	}
	fn(l)
	e.mu.Unlock()
	e.notify()
}
