package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hurricanerix/tagweave/internal/config"
	"github.com/hurricanerix/tagweave/internal/sanitize"
	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

// PictureRequest asks for a picture of the current chat in a mode.
type PictureRequest struct {
	Mode     string           `json:"mode"`
	Subject  settings.Subject `json:"subject"`
	UserName string           `json:"user_name"`
	ChatID   string           `json:"chat_id"`
}

// GeneratePicture builds a prompt for req.Mode from the chat, renders it
// with the single-prompt workflow and posts the image to the chat.
func (p *Pipeline) GeneratePicture(ctx context.Context, s settings.Settings, req PictureRequest) (Result, error) {
	chatID, err := p.targetChat(req.ChatID)
	if err != nil {
		return Result{}, err
	}

	override := s.Override(req.Subject)

	prompt, err := p.modePrompt(ctx, s, chatID, req, override.PromptPrefix, req.Mode)
	if err != nil {
		return Result{}, err
	}
	p.logger.Debug("Initial image prompt: %s", prompt)

	mode := p.gen.Modes[req.Mode]
	if target := p.redirect(req.Mode, prompt); target != "" {
		p.logger.Info("Redirecting %s generation to %s", req.Mode, target)
		prompt, err = p.modePrompt(ctx, s, chatID, req, override.PromptPrefix, target)
		if err != nil {
			return Result{}, err
		}
	} else if mode.AppendExtra {
		extra := p.gen.Modes[p.gen.ExtraMode]
		if extra.Instruction != "" {
			reply, err := p.sanitizedReply(ctx, s, chatID, req, extra)
			if err != nil {
				return Result{}, err
			}
			prompt = prompt + ", " + reply
		}
	}
	p.logger.Info("Final image prompt: %s", prompt)

	filled, err := p.fill(s, workflow.Values{
		workflow.KeyPrompt: workflow.String(prompt),
		workflow.KeySeed:   workflow.SeedValue(p.gen.Seed),
	})
	if err != nil {
		return Result{}, err
	}

	return p.render(ctx, s, chatID, req.Subject, filled, prompt, "", false)
}

// modePrompt returns "<override prefix>, <mode prefix>, <sanitized reply>".
func (p *Pipeline) modePrompt(ctx context.Context, s settings.Settings, chatID string, req PictureRequest, overridePrefix, modeName string) (string, error) {
	mode, ok := p.gen.Modes[modeName]
	if !ok {
		return "", fmt.Errorf("%w: %q", config.ErrUnknownMode, modeName)
	}

	reply, err := p.sanitizedReply(ctx, s, chatID, req, mode)
	if err != nil {
		return "", err
	}
	return overridePrefix + ", " + mode.Prefix + ", " + reply, nil
}

// sanitizedReply runs the mode's instruction and sanitizes the answer.
func (p *Pipeline) sanitizedReply(ctx context.Context, s settings.Settings, chatID string, req PictureRequest, mode config.Mode) (string, error) {
	if strings.TrimSpace(mode.Instruction) == "" {
		return "", ErrEmptyInstruction
	}

	raw, err := p.ask(ctx, s, chatID, expandMacros(mode.Instruction, req.Subject.Name, req.UserName))
	if err != nil {
		return "", err
	}
	return sanitize.Require(raw, req.Subject.Name)
}

// redirect returns the mode a prompt built in mode should be regenerated
// with, or "" when no rule matches. Rules are checked in order and the last
// match wins.
func (p *Pipeline) redirect(mode, prompt string) string {
	target := ""
	for _, r := range p.gen.Redirects {
		if r.From != mode {
			continue
		}
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(prompt, kw) {
				target = r.To
				break
			}
		}
	}
	return target
}
