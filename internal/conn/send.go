package conn

import "github.com/skeinhq/skein/internal/protocol"

// Typed send helpers for the client→server half of the protocol.

func (m *Manager) SendUserMessage(text string, attachments []protocol.Attachment) error {
	return m.Send(protocol.UserMessage{
		Type:        protocol.TypeUserMessage,
		Text:        text,
		Attachments: attachments,
	})
}

func (m *Manager) SendWorktreeMessage(worktreeID, text string, attachments []protocol.Attachment) error {
	return m.Send(protocol.WorktreeSendMessage{
		Type:        protocol.TypeWorktreeSendMessage,
		WorktreeID:  worktreeID,
		Text:        text,
		Attachments: attachments,
	})
}

func (m *Manager) WakeUp(worktreeID string) error {
	return m.Send(protocol.WakeUp{Type: protocol.TypeWakeUp, WorktreeID: worktreeID})
}

func (m *Manager) RequestModelList() error {
	return m.Send(protocol.ModelListRequest{Type: protocol.TypeModelList})
}

func (m *Manager) SetModel(model, reasoningEffort string) error {
	return m.Send(protocol.ModelSetRequest{
		Type:            protocol.TypeModelSet,
		Model:           model,
		ReasoningEffort: reasoningEffort,
	})
}

func (m *Manager) SwitchProvider(provider string) error {
	return m.Send(protocol.SwitchProvider{Type: protocol.TypeSwitchProvider, Provider: provider})
}

func (m *Manager) InterruptTurn(turnID string) error {
	return m.Send(protocol.TurnInterrupt{Type: protocol.TypeTurnInterrupt, TurnID: turnID})
}

func (m *Manager) InterruptWorktreeTurn(worktreeID, turnID string) error {
	return m.Send(protocol.WorktreeTurnInterrupt{
		Type:       protocol.TypeWorktreeTurnInterrupt,
		WorktreeID: worktreeID,
		TurnID:     turnID,
	})
}

// SyncWorktreeMessages asks the server to replay messages newer than
// lastSeenMessageID; the reply merges idempotently, so retrying after a
// dropped connection is safe.
func (m *Manager) SyncWorktreeMessages(worktreeID, lastSeenMessageID string) error {
	return m.Send(protocol.WorktreeMessagesSyncRequest{
		Type:              protocol.TypeWorktreeMessagesSync,
		WorktreeID:        worktreeID,
		LastSeenMessageID: lastSeenMessageID,
	})
}
