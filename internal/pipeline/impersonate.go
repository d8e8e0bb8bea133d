package pipeline

import (
	"context"
	"strings"

	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/textgen"
)

// InputMacro is replaced by the latest impersonation input.
const InputMacro = "{{input}}"

// ImpersonateRequest asks for a reply written in the user's voice.
type ImpersonateRequest struct {
	ChatID string `json:"chat_id"`
	// Input, when non-empty, becomes the chat's latest impersonation input.
	Input string `json:"input"`
	// Prompt overrides the quick impersonate prompt from settings.
	Prompt string `json:"prompt"`

	Subject  settings.Subject `json:"subject"`
	UserName string           `json:"user_name"`
}

// Impersonate generates the user's next message. The result is returned,
// not appended to the chat.
func (p *Pipeline) Impersonate(ctx context.Context, s settings.Settings, req ImpersonateRequest) (string, error) {
	chatID, err := p.resolveChat(req.ChatID)
	if err != nil {
		return "", err
	}

	if req.Input != "" {
		p.chats.SetImpersonateInput(chatID, req.Input)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = strings.TrimSpace(s.QuickImpersonatePrompt)
	}
	if prompt == "" {
		prompt = p.gen.ImpersonateInstruction
	}
	prompt = strings.ReplaceAll(prompt, InputMacro, p.chats.ImpersonateInput(chatID))
	prompt = expandMacros(prompt, req.Subject.Name, req.UserName)

	reply, err := p.ask(ctx, s, chatID, prompt)
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", textgen.ErrEmptyReply
	}
	return reply, nil
}
