// Package textgen defines the boundary to text-generation backends.
//
// Backends (ollama, OpenAI-compatible servers) implement Generator. The
// pipeline only depends on this package, never on a concrete backend.
package textgen

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when a backend answers with blank text.
var ErrEmptyReply = errors.New("text backend returned an empty reply")

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one line of chat history passed as context.
type Message struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Request asks a backend for a single completion.
//
// Instruction is sent as a final user turn after History (a quiet prompt):
// the model sees the conversation, then the instruction, and its answer is
// not added to the chat.
type Request struct {
	Instruction string
	History     []Message
	Preset      Preset
}

// Generator produces text for a Request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Messages flattens a Request into the message list sent to chat backends.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+1)
	for _, m := range r.History {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	if r.Instruction != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: r.Instruction})
	}
	return msgs
}
