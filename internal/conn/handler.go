package conn

import "github.com/skeinhq/skein/internal/protocol"

// Handler receives every server-pushed event, already typed and already
// resolved to a scope (protocol.MainScope or a worktree id). auth_ok and
// pong are consumed by the Manager and never forwarded.
type Handler interface {
	HandleStatus(scope, message string)
	HandleReady(scope string)
	HandleProviderStatus(msg protocol.ProviderStatus)

	HandleAssistantDelta(scope, itemID, delta string)
	HandleAssistantMessage(scope, itemID, text string)

	HandleActionRequest(scope string, msg protocol.ActionRequest)
	HandleActionResult(scope string, msg protocol.ActionResult)
	HandleBacklogView(scope string, msg protocol.BacklogView)

	HandleCommandExecutionDelta(scope, itemID, delta string)
	HandleCommandExecutionCompleted(scope, itemID string, item protocol.CommandExecutionItem)

	HandleTurnStarted(scope, turnID string)
	HandleTurnCompleted(scope string, msg protocol.TurnCompleted)
	HandleTurnError(scope, message string)

	HandleModelList(msg protocol.ModelList)
	HandleModelSet(scope, model, reasoningEffort string)

	HandleSessionSync(snapshot protocol.SessionSnapshot)
	HandleWorktreesList(list []protocol.WorktreeInfo)
	HandleWorktreeMessages(worktreeID string, messages []protocol.WireMessage)
	HandleWorktreeDiff(msg protocol.WorktreeDiff)
	HandleWorktreeCreated(info protocol.WorktreeInfo)
	HandleWorktreeReady(worktreeID string)
	HandleWorktreeStatus(msg protocol.WorktreeStatusEvent)
	HandleWorktreeRemoved(worktreeID string)
	HandleWorktreeRenamed(worktreeID, name string)
	HandleRepoDiff(msg protocol.RepoDiff)

	HandleServerError(scope, message string)
}
