// Package openaicompat implements textgen.Generator against any server
// speaking the OpenAI chat completions API (OpenAI, llama.cpp, vLLM,
// LM Studio, text-generation-webui).
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hurricanerix/tagweave/internal/textgen"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.ChatModelGPT4oMini

var (
	// ErrNoChoices is returned when the server answers without any choices.
	ErrNoChoices = errors.New("chat completion returned no choices")
	// ErrRequestFailed is returned when the server answers with an error status.
	ErrRequestFailed = errors.New("chat completion request failed")
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("failed to connect to chat completion server")
	// ErrConnectionTimeout is returned when the request times out.
	ErrConnectionTimeout = errors.New("chat completion request timed out")
)

// chatService is the subset of the chat completions API the client needs.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK service to chatService.
type completions struct {
	svc openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client generates text through a chat completions endpoint.
type Client struct {
	chat  chatService
	model string
}

var _ textgen.Generator = (*Client)(nil)

// NewClient creates a client for baseURL. An empty baseURL targets the
// official OpenAI API; an empty apiKey is allowed for local servers.
func NewClient(baseURL, apiKey, model string) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		opts = append(opts, option.WithAPIKey("none"))
	}
	if model == "" {
		model = DefaultModel
	}
	cli := openai.NewClient(opts...)
	return &Client{chat: completions{svc: cli.Chat.Completions}, model: model}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate implements textgen.Generator.
func (c *Client) Generate(ctx context.Context, r textgen.Request) (string, error) {
	params := c.params(r)
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", textgen.ErrEmptyReply
	}
	return reply, nil
}

// classifyError maps SDK and transport errors onto the package sentinels.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		// apiErr.Error() dereferences the request; report the status only.
		return fmt.Errorf("%w: status %d", ErrRequestFailed, apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return fmt.Errorf("chat completion: %w", err)
}

func (c *Client) params(r textgen.Request) openai.ChatCompletionNewParams {
	src := r.Messages()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(src))
	for _, m := range src {
		content := m.Content
		if m.Name != "" {
			content = m.Name + ": " + content
		}
		switch m.Role {
		case textgen.RoleSystem:
			messages = append(messages, openai.SystemMessage(content))
		case textgen.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(content))
		default:
			messages = append(messages, openai.UserMessage(content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	p := r.Preset
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.TopP != nil {
		params.TopP = openai.Float(*p.TopP)
	}
	if p.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*p.MaxTokens))
	}
	if p.Seed != nil {
		params.Seed = openai.Int(*p.Seed)
	}
	// top_k and repeat_penalty have no chat completions equivalent.
	return params
}
