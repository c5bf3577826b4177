package session

import (
	"github.com/google/uuid"

	"github.com/skeinhq/skein/internal/protocol"
)

type Role string

const (
	RoleUser             Role = "user"
	RoleAssistant        Role = "assistant"
	RoleCommandExecution Role = "commandExecution"
	RoleToolResult       Role = "tool_result"
	RoleError            Role = "error"
)

type CommandStatus string

const (
	CommandRunning   CommandStatus = "running"
	CommandCompleted CommandStatus = "completed"
)

// Message is one transcript entry. Within one Log the ID is unique; a
// message arriving without an ID gets a synthetic one on insertion.
type Message struct {
	ID          string
	Role        Role
	Text        string
	Attachments []protocol.Attachment
	ToolResult  string
	IsStreaming bool

	// Command fields are meaningful only for RoleCommandExecution: Text
	// holds the running output buffer, Command the (possibly placeholder)
	// command name.
	Command       string
	CommandStatus CommandStatus
}

// FromWire converts a server-serialized message.
func FromWire(w protocol.WireMessage) Message {
	m := Message{
		ID:          w.ID,
		Role:        Role(w.Role),
		Text:        w.Text,
		Attachments: w.Attachments,
		ToolResult:  w.ToolResult,
		IsStreaming: w.IsStreaming,
		Command:     w.Command,
	}
	if m.Role == RoleCommandExecution {
		m.CommandStatus = CommandStatus(w.Status)
		if m.CommandStatus == "" {
			m.CommandStatus = CommandCompleted
		}
	}
	return m
}

// FromWireBatch converts a server batch preserving order.
func FromWireBatch(batch []protocol.WireMessage) []Message {
	out := make([]Message, 0, len(batch))
	for _, w := range batch {
		out = append(out, FromWire(w))
	}
	return out
}

func newSyntheticID() string {
	return "local-" + uuid.NewString()
}
