package protocol

// Message types for the session channel protocol.
const (
	// Client → Server
	TypeAuth                  = "auth"
	TypePing                  = "ping"
	TypeWakeUp                = "wake_up"
	TypeUserMessage           = "user_message"
	TypeWorktreeSendMessage   = "worktree_send_message"
	TypeSwitchProvider        = "switch_provider"
	TypeTurnInterrupt         = "turn_interrupt"
	TypeWorktreeTurnInterrupt = "worktree_turn_interrupt"

	// Bidirectional discriminants, disambiguated by direction: the client
	// sends the request shape, the server replies under the same type.
	TypeWorktreeMessagesSync = "worktree_messages_sync"
	TypeModelList            = "model_list"
	TypeModelSet             = "model_set"

	// Server → Client
	TypeAuthOK                    = "auth_ok"
	TypePong                      = "pong"
	TypeStatus                    = "status"
	TypeReady                     = "ready"
	TypeProviderStatus            = "provider_status"
	TypeAssistantDelta            = "assistant_delta"
	TypeAssistantMessage          = "assistant_message"
	TypeActionRequest             = "action_request"
	TypeActionResult              = "action_result"
	TypeBacklogView               = "backlog_view"
	TypeCommandExecutionDelta     = "command_execution_delta"
	TypeCommandExecutionCompleted = "command_execution_completed"
	TypeTurnStarted               = "turn_started"
	TypeTurnCompleted             = "turn_completed"
	TypeTurnError                 = "turn_error"
	TypeSessionSync               = "session_sync"
	TypeWorktreesList             = "worktrees_list"
	TypeWorktreeDiff              = "worktree_diff"
	TypeWorktreeCreated           = "worktree_created"
	TypeWorktreeReady             = "worktree_ready"
	TypeWorktreeStatus            = "worktree_status"
	TypeWorktreeRemoved           = "worktree_removed"
	TypeWorktreeRenamed           = "worktree_renamed"
	TypeRepoDiff                  = "repo_diff"
	TypeError                     = "error"
)

// MainScope is the routing key for the main stream. Events with no scope
// at all are also addressed to the main stream (legacy senders).
const MainScope = "main"

// Envelope wraps every channel message with the fields needed for routing.
type Envelope struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
}

// Scope resolves the envelope's routing key: MainScope for unscoped or
// explicitly main-scoped events, otherwise the worktree id.
func (e Envelope) Scope() string {
	if e.WorktreeID == "" || e.WorktreeID == MainScope {
		return MainScope
	}
	return e.WorktreeID
}

// Attachment is an opaque file reference carried alongside a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"` // base64, small inline payloads only
}

// WireMessage is one transcript entry as the server serializes it, both in
// full snapshots and in incremental sync batches.
type WireMessage struct {
	ID          string       `json:"id,omitempty"`
	Role        string       `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolResult  string       `json:"tool_result,omitempty"`
	Command     string       `json:"command,omitempty"`
	Status      string       `json:"status,omitempty"`
	IsStreaming bool         `json:"is_streaming,omitempty"`
}

// WorktreeInfo describes one work stream in list/created events.
type WorktreeInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BranchName      string `json:"branch_name,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Status          string `json:"status"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	Activity        string `json:"activity,omitempty"`
	CurrentTurnID   string `json:"current_turn_id,omitempty"`
}

// SessionSnapshot is the authoritative full session state, delivered over
// the channel as session_sync and over HTTP from the snapshot endpoint.
type SessionSnapshot struct {
	Messages        []WireMessage `json:"messages"`
	Model           string        `json:"model,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	Provider        string        `json:"provider,omitempty"`
	CurrentTurnID   string        `json:"current_turn_id,omitempty"`
}

// CommandExecutionItem is the resolved form of a completed command run.
type CommandExecutionItem struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Status  string `json:"status"`
}

// --- Client → Server ---

type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type Ping struct {
	Type string `json:"type"`
}

type WakeUp struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
}

type UserMessage struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type WorktreeSendMessage struct {
	Type        string       `json:"type"`
	WorktreeID  string       `json:"worktree_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type ModelListRequest struct {
	Type string `json:"type"`
}

type ModelSetRequest struct {
	Type            string `json:"type"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

type SwitchProvider struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
}

type TurnInterrupt struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
}

type WorktreeTurnInterrupt struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id"`
	TurnID     string `json:"turn_id"`
}

type WorktreeMessagesSyncRequest struct {
	Type              string `json:"type"`
	WorktreeID        string `json:"worktree_id"`
	LastSeenMessageID string `json:"last_seen_message_id,omitempty"`
}

// --- Server → Client ---

type AuthOK struct {
	Type string `json:"type"`
}

type Pong struct {
	Type string `json:"type"`
}

type Status struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Ready struct {
	Type string `json:"type"`
}

type ProviderStatus struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
}

type AssistantDelta struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type AssistantMessage struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	ItemID     string `json:"item_id"`
	Text       string `json:"text"`
}

type ActionRequest struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	ID         string `json:"id"`
	Request    string `json:"request"`
	Arg        string `json:"arg,omitempty"`
}

type ActionResult struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	ID         string `json:"id"`
	Request    string `json:"request"`
	Arg        string `json:"arg,omitempty"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
}

type BacklogView struct {
	Type       string   `json:"type"`
	WorktreeID string   `json:"worktree_id,omitempty"`
	ID         string   `json:"id"`
	Items      []string `json:"items"`
	Page       int      `json:"page"`
}

type CommandExecutionDelta struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type CommandExecutionCompleted struct {
	Type       string               `json:"type"`
	WorktreeID string               `json:"worktree_id,omitempty"`
	ItemID     string               `json:"item_id"`
	Item       CommandExecutionItem `json:"item"`
}

type TurnStarted struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	TurnID     string `json:"turn_id"`
}

type TurnCompleted struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	TurnID     string `json:"turn_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type TurnError struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	Message    string `json:"message"`
}

type ModelList struct {
	Type     string   `json:"type"`
	Models   []string `json:"models"`
	Provider string   `json:"provider,omitempty"`
}

type ModelSet struct {
	Type            string `json:"type"`
	WorktreeID      string `json:"worktree_id,omitempty"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

type SessionSync struct {
	Type    string          `json:"type"`
	Session SessionSnapshot `json:"session"`
}

type WorktreesList struct {
	Type      string         `json:"type"`
	Worktrees []WorktreeInfo `json:"worktrees"`
}

type WorktreeMessagesSync struct {
	Type       string        `json:"type"`
	WorktreeID string        `json:"worktree_id"`
	Messages   []WireMessage `json:"messages"`
}

type WorktreeDiff struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id"`
	Status     string `json:"status"`
	Diff       string `json:"diff"`
}

type WorktreeCreated struct {
	Type     string       `json:"type"`
	Worktree WorktreeInfo `json:"worktree"`
}

type WorktreeReady struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id"`
}

type WorktreeStatusEvent struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id"`
	Status     string `json:"status"`
	Activity   string `json:"activity,omitempty"`
	TurnID     string `json:"turn_id,omitempty"`
}

type WorktreeRemoved struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id"`
}

type WorktreeRenamed struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id"`
	Name       string `json:"name"`
}

type RepoDiff struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Diff   string `json:"diff"`
}

type ErrorMsg struct {
	Type       string `json:"type"`
	WorktreeID string `json:"worktree_id,omitempty"`
	Message    string `json:"message"`
}
