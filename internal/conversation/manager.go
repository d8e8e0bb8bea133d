package conversation

import (
	"github.com/hurricanerix/tagweave/internal/textgen"
)

const (
	// MaxHistorySize is the maximum number of messages kept per chat.
	// When this limit is reached, the oldest messages are removed.
	MaxHistorySize = 100
)

// Manager provides operations on one chat transcript.
//
// Manager is not thread-safe. For concurrent access across HTTP requests,
// use SessionManager which provides per-chat locking.
type Manager struct {
	conv *Transcript
}

// NewManager creates a new manager with an empty transcript.
func NewManager() *Manager {
	return &Manager{
		conv: NewTranscript(),
	}
}

// Append adds a message to the transcript and returns its index.
// If the history exceeds MaxHistorySize, the oldest messages are removed.
func (m *Manager) Append(msg Message) int {
	m.conv.messages = append(m.conv.messages, msg)
	m.trimHistory()
	return len(m.conv.messages) - 1
}

// History returns a copy of the message history.
func (m *Manager) History() []Message {
	if len(m.conv.messages) == 0 {
		return nil
	}
	history := make([]Message, len(m.conv.messages))
	copy(history, m.conv.messages)
	return history
}

// Len returns the number of messages in the transcript.
func (m *Manager) Len() int {
	return len(m.conv.messages)
}

// Clear removes all messages and the impersonation input.
func (m *Manager) Clear() {
	m.conv.messages = m.conv.messages[:0]
	m.conv.impersonateInput = ""
}

// SetImpersonateInput records the latest impersonation input.
func (m *Manager) SetImpersonateInput(input string) {
	m.conv.impersonateInput = input
}

// ImpersonateInput returns the latest impersonation input.
func (m *Manager) ImpersonateInput() string {
	return m.conv.impersonateInput
}

// trimHistory removes the oldest messages if the history exceeds MaxHistorySize.
func (m *Manager) trimHistory() {
	if len(m.conv.messages) <= MaxHistorySize {
		return
	}
	excess := len(m.conv.messages) - MaxHistorySize
	m.conv.messages = m.conv.messages[excess:]
}

// BuildContext converts the transcript into text-generation history.
//
// Hidden system messages (quiet narrator posts with no text) are skipped.
// At most limit of the most recent messages are returned; limit <= 0
// means all of them.
func (m *Manager) BuildContext(limit int) []textgen.Message {
	msgs := m.conv.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	context := make([]textgen.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Text == "" {
			continue
		}
		role := msg.Role()
		if role == textgen.RoleSystem {
			// Narrator text is part of the story, not an instruction.
			role = textgen.RoleAssistant
		}
		context = append(context, textgen.Message{
			Role:    role,
			Name:    msg.Name,
			Content: msg.Text,
		})
	}
	return context
}
