package conn

import (
	"context"
	"encoding/json"

	"github.com/skeinhq/skein/internal/protocol"
)

// dispatch routes one inbound frame. Malformed payloads and duplicate
// auth_ok are dropped; unknown event types are ignored, not fatal. No
// other traffic is processed before authentication completes.
func (m *Manager) dispatch(myGen uint64, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.log.Warn("bad channel message", "err", err)
		return
	}

	m.mu.Lock()
	if m.gen != myGen {
		m.mu.Unlock()
		return
	}
	authed := m.authed
	m.mu.Unlock()

	if env.Type == protocol.TypeAuthOK {
		m.handleAuthOK(myGen)
		return
	}
	if !authed {
		m.log.Debug("dropping pre-auth message", "type", env.Type)
		return
	}

	if env.Type == protocol.TypePong {
		m.mu.Lock()
		if m.gen == myGen {
			m.lastPong = m.now()
		}
		m.mu.Unlock()
		return
	}

	h := m.opts.Handler
	if h == nil {
		return
	}
	scope := env.Scope()

	switch env.Type {
	case protocol.TypeStatus:
		var msg protocol.Status
		if json.Unmarshal(data, &msg) == nil {
			h.HandleStatus(scope, msg.Message)
		}
	case protocol.TypeReady:
		h.HandleReady(scope)
	case protocol.TypeProviderStatus:
		var msg protocol.ProviderStatus
		if json.Unmarshal(data, &msg) == nil {
			h.HandleProviderStatus(msg)
		}
	case protocol.TypeAssistantDelta:
		var msg protocol.AssistantDelta
		if json.Unmarshal(data, &msg) == nil {
			h.HandleAssistantDelta(scope, msg.ItemID, msg.Delta)
		}
	case protocol.TypeAssistantMessage:
		var msg protocol.AssistantMessage
		if json.Unmarshal(data, &msg) == nil {
			h.HandleAssistantMessage(scope, msg.ItemID, msg.Text)
		}
	case protocol.TypeActionRequest:
		var msg protocol.ActionRequest
		if json.Unmarshal(data, &msg) == nil {
			h.HandleActionRequest(scope, msg)
		}
	case protocol.TypeActionResult:
		var msg protocol.ActionResult
		if json.Unmarshal(data, &msg) == nil {
			h.HandleActionResult(scope, msg)
		}
	case protocol.TypeBacklogView:
		var msg protocol.BacklogView
		if json.Unmarshal(data, &msg) == nil {
			h.HandleBacklogView(scope, msg)
		}
	case protocol.TypeCommandExecutionDelta:
		var msg protocol.CommandExecutionDelta
		if json.Unmarshal(data, &msg) == nil {
			h.HandleCommandExecutionDelta(scope, msg.ItemID, msg.Delta)
		}
	case protocol.TypeCommandExecutionCompleted:
		var msg protocol.CommandExecutionCompleted
		if json.Unmarshal(data, &msg) == nil {
			h.HandleCommandExecutionCompleted(scope, msg.ItemID, msg.Item)
		}
	case protocol.TypeTurnStarted:
		var msg protocol.TurnStarted
		if json.Unmarshal(data, &msg) == nil {
			h.HandleTurnStarted(scope, msg.TurnID)
		}
	case protocol.TypeTurnCompleted:
		var msg protocol.TurnCompleted
		if json.Unmarshal(data, &msg) == nil {
			h.HandleTurnCompleted(scope, msg)
		}
	case protocol.TypeTurnError:
		var msg protocol.TurnError
		if json.Unmarshal(data, &msg) == nil {
			h.HandleTurnError(scope, msg.Message)
		}
	case protocol.TypeModelList:
		var msg protocol.ModelList
		if json.Unmarshal(data, &msg) == nil {
			h.HandleModelList(msg)
		}
	case protocol.TypeModelSet:
		var msg protocol.ModelSet
		if json.Unmarshal(data, &msg) == nil {
			h.HandleModelSet(scope, msg.Model, msg.ReasoningEffort)
		}
	case protocol.TypeSessionSync:
		var msg protocol.SessionSync
		if json.Unmarshal(data, &msg) == nil {
			h.HandleSessionSync(msg.Session)
		}
	case protocol.TypeWorktreesList:
		var msg protocol.WorktreesList
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreesList(msg.Worktrees)
		}
	case protocol.TypeWorktreeMessagesSync:
		var msg protocol.WorktreeMessagesSync
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeMessages(msg.WorktreeID, msg.Messages)
		}
	case protocol.TypeWorktreeDiff:
		var msg protocol.WorktreeDiff
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeDiff(msg)
		}
	case protocol.TypeWorktreeCreated:
		var msg protocol.WorktreeCreated
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeCreated(msg.Worktree)
		}
	case protocol.TypeWorktreeReady:
		var msg protocol.WorktreeReady
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeReady(msg.WorktreeID)
		}
	case protocol.TypeWorktreeStatus:
		var msg protocol.WorktreeStatusEvent
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeStatus(msg)
		}
	case protocol.TypeWorktreeRemoved:
		var msg protocol.WorktreeRemoved
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeRemoved(msg.WorktreeID)
		}
	case protocol.TypeWorktreeRenamed:
		var msg protocol.WorktreeRenamed
		if json.Unmarshal(data, &msg) == nil {
			h.HandleWorktreeRenamed(msg.WorktreeID, msg.Name)
		}
	case protocol.TypeRepoDiff:
		var msg protocol.RepoDiff
		if json.Unmarshal(data, &msg) == nil {
			h.HandleRepoDiff(msg)
		}
	case protocol.TypeError:
		var msg protocol.ErrorMsg
		if json.Unmarshal(data, &msg) == nil {
			h.HandleServerError(scope, msg.Message)
		}
	default:
		m.log.Debug("unknown message type", "type", env.Type)
	}
}

// handleAuthOK completes authentication exactly once per channel;
// duplicate auth_ok frames are ignored.
func (m *Manager) handleAuthOK(myGen uint64) {
	m.mu.Lock()
	if m.gen != myGen || m.authed || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.authed = true
	m.backoff.Reset()
	m.clearReconnectTimerLocked()
	m.lastPong = m.now()
	hbCtx, hbCancel := context.WithCancel(m.runCtx)
	m.hbCancel = hbCancel
	m.setStateLocked(StateAuthenticated, nil)
	m.mu.Unlock()

	go m.heartbeatLoop(hbCtx, myGen)
	m.flushOutbox()
	m.resync()
}
