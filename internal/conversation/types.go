// Package conversation keeps chat transcripts in memory.
//
// Each chat is identified by a chat ID and holds an ordered, bounded list
// of messages. Generated pictures are appended as narrator messages. One
// chat is active at a time; the pipeline compares the active chat before
// and after a slow generation to decide whether its result still belongs.
//
// # Thread Safety
//
// Manager is NOT thread-safe. SessionManager serializes access per chat and
// is safe for concurrent use.
package conversation

import (
	"time"

	"github.com/hurricanerix/tagweave/internal/textgen"
)

// ExtraTypeNarrator marks messages posted by the narrator.
const ExtraTypeNarrator = "narrator"

// Extra carries the media attached to a message.
type Extra struct {
	Image       string   `json:"image,omitempty"`        // URL of the attached image
	Title       string   `json:"title,omitempty"`        // prompt the image was generated from
	InlineImage bool     `json:"inline_image,omitempty"` // render the image inside the message
	ImageSwipes []string `json:"image_swipes,omitempty"` // alternative images, first is current
	Type        string   `json:"type,omitempty"`
	GenID       int64    `json:"gen_id,omitempty"` // generation timestamp in milliseconds
}

// Message is one entry of a chat transcript.
type Message struct {
	Name     string    `json:"name"`
	IsUser   bool      `json:"is_user"`
	IsSystem bool      `json:"is_system"`
	SendDate time.Time `json:"send_date"`
	Text     string    `json:"mes"`
	Extra    *Extra    `json:"extra,omitempty"`
}

// Role maps the message to a text-generation role.
func (m Message) Role() string {
	switch {
	case m.IsSystem:
		return textgen.RoleSystem
	case m.IsUser:
		return textgen.RoleUser
	default:
		return textgen.RoleAssistant
	}
}

// Transcript holds the state for a single chat.
type Transcript struct {
	// messages is the ordered history, oldest first.
	messages []Message

	// impersonateInput is the most recent text the user asked to have
	// rewritten in their voice. It replaces {{input}} in impersonation
	// prompts.
	impersonateInput string
}

// NewTranscript creates a new empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		messages: make([]Message, 0),
	}
}
