package session

import "github.com/skeinhq/skein/internal/protocol"

// Log is an append-mostly ordered message sequence. Insertion order is
// arrival/merge order; streaming deltas mutate entries in place by id
// lookup rather than reordering. All operations are idempotent so
// overlapping resynchronization bursts are safe to retry.
type Log struct {
	msgs  []Message
	index map[string]int // id → position
}

func NewLog() *Log {
	return &Log{index: make(map[string]int)}
}

func (l *Log) Len() int { return len(l.msgs) }

// Messages returns a copy of the log in order.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Get returns the message with the given id, if present.
func (l *Log) Get(id string) (Message, bool) {
	pos, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.msgs[pos], true
}

// LastID returns the id of the newest entry, or "" for an empty log.
func (l *Log) LastID() string {
	if len(l.msgs) == 0 {
		return ""
	}
	return l.msgs[len(l.msgs)-1].ID
}

// Replace applies a full snapshot: normalize ids (a message without one
// gets a synthetic id, order preserved), rebuild the index, and swap the
// log wholesale. Prior contents are irrelevant to the result.
func (l *Log) Replace(batch []Message) {
	msgs := make([]Message, 0, len(batch))
	index := make(map[string]int, len(batch))
	for _, m := range batch {
		if m.ID == "" {
			m.ID = newSyntheticID()
		}
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	l.msgs = msgs
	l.index = index
}

// Merge appends only messages whose id is unseen, preserving the batch's
// relative order. Existing entries are never reordered or removed, so
// replaying the same batch is a no-op. Returns the number appended.
func (l *Log) Merge(batch []Message) int {
	appended := 0
	for _, m := range batch {
		if m.ID == "" {
			m.ID = newSyntheticID()
		}
		if _, known := l.index[m.ID]; known {
			continue
		}
		l.index[m.ID] = len(l.msgs)
		l.msgs = append(l.msgs, m)
		appended++
	}
	return appended
}

// Append inserts a single message, deduplicated by id. An empty id gets a
// synthetic one. Returns true if the message was inserted.
func (l *Log) Append(m Message) bool {
	if m.ID == "" {
		m.ID = newSyntheticID()
	}
	if _, known := l.index[m.ID]; known {
		return false
	}
	l.index[m.ID] = len(l.msgs)
	l.msgs = append(l.msgs, m)
	return true
}

// ApplyDelta accumulates a streaming text fragment for the given item. An
// unknown id seeds a new streaming assistant message.
func (l *Log) ApplyDelta(id, fragment string) {
	if pos, ok := l.index[id]; ok {
		l.msgs[pos].Text += fragment
		l.msgs[pos].IsStreaming = true
		return
	}
	l.Append(Message{ID: id, Role: RoleAssistant, Text: fragment, IsStreaming: true})
}

// Finalize overwrites the accumulated text with the authoritative final
// text and clears the streaming flag. The final event is the last writer,
// which makes late duplicate deltas harmless.
func (l *Log) Finalize(id, text string) {
	if pos, ok := l.index[id]; ok {
		l.msgs[pos].Text = text
		l.msgs[pos].IsStreaming = false
		return
	}
	l.Append(Message{ID: id, Role: RoleAssistant, Text: text})
}

// ApplyCommandDelta accumulates command output for the given execution. An
// unknown id seeds a running command record.
func (l *Log) ApplyCommandDelta(id, fragment string) {
	if pos, ok := l.index[id]; ok {
		l.msgs[pos].Text += fragment
		l.msgs[pos].CommandStatus = CommandRunning
		return
	}
	l.Append(Message{
		ID:            id,
		Role:          RoleCommandExecution,
		Text:          fragment,
		IsStreaming:   true,
		CommandStatus: CommandRunning,
	})
}

// CompleteCommand marks the execution finished. The resolved item
// overwrites the running record's placeholder name and buffered output.
func (l *Log) CompleteCommand(id string, item protocol.CommandExecutionItem) {
	if pos, ok := l.index[id]; ok {
		l.msgs[pos].Command = item.Command
		l.msgs[pos].Text = item.Output
		l.msgs[pos].IsStreaming = false
		l.msgs[pos].CommandStatus = CommandCompleted
		return
	}
	l.Append(Message{
		ID:            id,
		Role:          RoleCommandExecution,
		Command:       item.Command,
		Text:          item.Output,
		CommandStatus: CommandCompleted,
	})
}
