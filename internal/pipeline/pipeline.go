// Package pipeline turns chat context into pictures.
//
// A generation asks the text backend for a keyword description of the
// chat, sanitizes it into a prompt, fills the selected ComfyUI workflow,
// waits for the image and posts it back to the chat as a narrator message.
// Every operation takes the current settings.Settings explicitly; the
// pipeline itself holds no user settings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hurricanerix/tagweave/internal/comfy"
	"github.com/hurricanerix/tagweave/internal/config"
	"github.com/hurricanerix/tagweave/internal/conversation"
	"github.com/hurricanerix/tagweave/internal/image"
	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/persistence"
	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/textgen"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

// DefaultHistoryLimit is how many recent chat messages are sent as context.
const DefaultHistoryLimit = 20

// Event types published to the EventSink.
const (
	// EventMessage carries a narrator message appended to a chat.
	// Data schema: {"chat_id": string, "index": int, "message": conversation.Message}
	EventMessage = "message"

	// EventImageReady indicates a generated image is available.
	// Data schema: {"chat_id": string, "url": string, "width": int, "height": int}
	EventImageReady = "image-ready"
)

var (
	// ErrURLNotSet is returned when no ComfyUI URL is configured
	ErrURLNotSet = errors.New("ComfyUI URL is not set")
	// ErrChatChanged is returned when the active chat changed during generation
	ErrChatChanged = errors.New("chat changed, generated image discarded")
	// ErrNoActiveChat is returned when a request names no chat and none is active
	ErrNoActiveChat = errors.New("no active chat")
	// ErrEmptyInstruction is returned for a mode whose instruction is empty
	ErrEmptyInstruction = errors.New("generation mode has no instruction")
	// ErrInvalidScene is returned for scene JSON that cannot be used
	ErrInvalidScene = errors.New("invalid scene description")
)

// ImageBackend renders a filled workflow into an image.
type ImageBackend interface {
	Ping(ctx context.Context) error
	Generate(ctx context.Context, workflow string) (comfy.Image, error)
}

// ImageBackendFactory returns a backend for a ComfyUI base URL.
type ImageBackendFactory func(baseURL string) ImageBackend

// EventSink receives events for connected clients. web.Broker implements it.
type EventSink interface {
	SendEventToAll(eventType string, data interface{})
}

// Deps are the components a Pipeline is wired with. Text, Comfy, Workflows
// and Chats are required.
type Deps struct {
	Text       textgen.Generator
	Comfy      ImageBackendFactory
	Workflows  *workflow.Store
	Presets    *textgen.Presets
	Generation config.GenerationConfig
	Images     *image.Storage
	Saved      *persistence.ImageStore
	Chats      *conversation.SessionManager
	Events     EventSink
	Logger     *logging.Logger

	// HistoryLimit <= 0 selects DefaultHistoryLimit.
	HistoryLimit int
}

// Result describes a generated picture.
type Result struct {
	ChatID    string     `json:"chat_id"`
	Prompt    string     `json:"prompt"`
	ImageID   string     `json:"image_id"`
	URL       string     `json:"url"`
	SavedPath string     `json:"saved_path,omitempty"`
	Image     image.Info `json:"image"`
	Index     int        `json:"index"`
}

// Pipeline orchestrates text generation, workflow filling and ComfyUI.
type Pipeline struct {
	text      textgen.Generator
	workflows *workflow.Store
	presets   *textgen.Presets
	gen       config.GenerationConfig
	images    *image.Storage
	saved     *persistence.ImageStore
	chats     *conversation.SessionManager
	events    EventSink
	logger    *logging.Logger
	limit     int

	// comfySem serializes ComfyUI submissions.
	comfySem *semaphore.Weighted

	mu         sync.Mutex
	newBackend ImageBackendFactory
	backendURL string
	backend    ImageBackend

	now func() time.Time
}

// New creates a Pipeline from deps.
func New(deps Deps) *Pipeline {
	p := &Pipeline{
		text:       deps.Text,
		workflows:  deps.Workflows,
		presets:    deps.Presets,
		gen:        deps.Generation,
		images:     deps.Images,
		saved:      deps.Saved,
		chats:      deps.Chats,
		events:     deps.Events,
		logger:     deps.Logger,
		limit:      deps.HistoryLimit,
		comfySem:   semaphore.NewWeighted(1),
		newBackend: deps.Comfy,
		now:        time.Now,
	}
	if p.presets == nil {
		p.presets = textgen.NewPresets(nil)
	}
	if p.images == nil {
		p.images = image.NewStorage(0)
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.limit <= 0 {
		p.limit = DefaultHistoryLimit
	}
	return p
}

// Chats returns the transcript manager.
func (p *Pipeline) Chats() *conversation.SessionManager {
	return p.chats
}

// Images returns the in-memory image storage.
func (p *Pipeline) Images() *image.Storage {
	return p.images
}

// Saved returns the on-disk image store, or nil when saving is disabled.
func (p *Pipeline) Saved() *persistence.ImageStore {
	return p.saved
}

// Presets returns the sampler preset registry.
func (p *Pipeline) Presets() *textgen.Presets {
	return p.presets
}

// Workflows lists the workflow templates available for selection.
func (p *Pipeline) Workflows() ([]string, error) {
	return p.workflows.List()
}

// ValidateComfy checks that the ComfyUI server in s answers and returns the
// available workflows. Cached templates are dropped so edited files are
// read again on the next generation.
func (p *Pipeline) ValidateComfy(ctx context.Context, s settings.Settings) ([]string, error) {
	backend, err := p.backendFor(s.ComfyURL)
	if err != nil {
		return nil, err
	}
	if err := backend.Ping(ctx); err != nil {
		return nil, err
	}
	p.workflows.Invalidate()
	p.logger.Debug("Reloading workflows from %s", p.workflows.Dir())
	return p.workflows.List()
}

// backendFor returns the image backend for url, reusing the previous one
// while the URL is unchanged.
func (p *Pipeline) backendFor(url string) (ImageBackend, error) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return nil, ErrURLNotSet
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.backend == nil || p.backendURL != url {
		p.backend = p.newBackend(url)
		p.backendURL = url
		p.logger.Debug("Using ComfyUI at %s", url)
	}
	return p.backend, nil
}

// resolveChat returns chatID, or the active chat when chatID is empty.
func (p *Pipeline) resolveChat(chatID string) (string, error) {
	if chatID != "" {
		return chatID, nil
	}
	if active := p.chats.Active(); active != "" {
		return active, nil
	}
	return "", ErrNoActiveChat
}

// targetChat resolves chatID like resolveChat and also requires it to be
// the active chat, so no backend work is spent on a chat the image could
// never be posted to.
func (p *Pipeline) targetChat(chatID string) (string, error) {
	active := p.chats.Active()
	if active == "" {
		return "", ErrNoActiveChat
	}
	if chatID == "" {
		return active, nil
	}
	if chatID != active {
		return "", fmt.Errorf("%w: request for %q while %q is active", ErrChatChanged, chatID, active)
	}
	return chatID, nil
}

// ask runs a quiet prompt against the chat history and returns the raw reply.
func (p *Pipeline) ask(ctx context.Context, s settings.Settings, chatID, instruction string) (string, error) {
	preset, err := p.presets.Lookup(s.PresetName)
	if err != nil {
		return "", err
	}

	reply, err := p.text.Generate(ctx, textgen.Request{
		Instruction: instruction,
		History:     p.chats.Context(chatID, p.limit),
		Preset:      preset,
	})
	if err != nil {
		return "", fmt.Errorf("text generation failed: %w", err)
	}
	return reply, nil
}

// fill loads the selected workflow and substitutes values into it.
func (p *Pipeline) fill(s settings.Settings, values workflow.Values) (string, error) {
	template, err := p.workflows.Load(s.WorkflowFile)
	if err != nil {
		return "", err
	}

	if missing := workflow.Unfilled(template, values); len(missing) > 0 {
		p.logger.Warn("Workflow %s has unfilled placeholders: %s", s.WorkflowFile, strings.Join(missing, ", "))
	}

	filled := workflow.Substitute(template, values)
	if err := workflow.Validate(filled); err != nil {
		return "", err
	}
	return filled, nil
}

// render submits a filled workflow and records the image in chatID.
// title is the prompt shown with the image; text is the narrator message.
func (p *Pipeline) render(ctx context.Context, s settings.Settings, chatID string, subject settings.Subject, filled, title, text string, quiet bool) (Result, error) {
	backend, err := p.backendFor(s.ComfyURL)
	if err != nil {
		return Result{}, err
	}

	if err := p.comfySem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	img, err := backend.Generate(ctx, filled)
	p.comfySem.Release(1)
	if err != nil {
		return Result{}, fmt.Errorf("image generation failed: %w", err)
	}
	if len(img.Data) == 0 {
		return Result{}, comfy.ErrNoImage
	}

	if active := p.chats.Active(); active != chatID {
		p.logger.Warn("Chat changed from %q to %q, discarding image", chatID, active)
		return Result{}, ErrChatChanged
	}

	id, info, err := p.images.Store(img.Data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store image: %w", err)
	}

	now := p.now()
	res := Result{
		ChatID:  chatID,
		Prompt:  title,
		ImageID: id,
		URL:     "/images/" + id,
		Image:   info,
	}

	if p.saved != nil {
		rel, err := p.saved.Save(subject.Name, img.Data, info.Format, now)
		if err != nil {
			p.logger.Warn("Failed to save image for %q: %v", subject.Name, err)
		} else {
			res.SavedPath = rel
			res.URL = p.saved.URL(rel)
		}
	}

	msg := narratorMessage(p.gen.NarratorName, now, text, title, res.URL, quiet)
	res.Index = p.chats.Append(chatID, msg)

	p.publish(EventImageReady, map[string]interface{}{
		"chat_id": chatID,
		"url":     res.URL,
		"width":   info.Width,
		"height":  info.Height,
	})
	p.publish(EventMessage, map[string]interface{}{
		"chat_id": chatID,
		"index":   res.Index,
		"message": msg,
	})

	return res, nil
}

func (p *Pipeline) publish(eventType string, data interface{}) {
	if p.events != nil {
		p.events.SendEventToAll(eventType, data)
	}
}

// narratorMessage builds the chat message carrying a generated image.
// A quiet message is a system message with no text.
func narratorMessage(name string, now time.Time, text, title, url string, quiet bool) conversation.Message {
	if quiet {
		text = ""
	}
	return conversation.Message{
		Name:     name,
		IsSystem: quiet,
		SendDate: now,
		Text:     text,
		Extra: &conversation.Extra{
			Image:       url,
			Title:       title,
			InlineImage: true,
			ImageSwipes: []string{url},
			Type:        conversation.ExtraTypeNarrator,
			GenID:       now.UnixMilli(),
		},
	}
}

// expandMacros replaces {{char}} and {{user}} in an instruction.
func expandMacros(s, char, user string) string {
	return strings.NewReplacer("{{char}}", char, "{{user}}", user).Replace(s)
}
