package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/textgen"
)

// Sentinel errors for ollama client operations
var (
	// ErrNotRunning is returned when ollama is not running at the configured endpoint
	ErrNotRunning = errors.New("ollama not running")
	// ErrModelNotFound is returned when the requested model is not available
	ErrModelNotFound = errors.New("model not available in ollama")
	// ErrConnectionTimeout is returned when the connection times out
	ErrConnectionTimeout = errors.New("ollama connection timeout")
	// ErrRequestFailed is returned when an API request fails
	ErrRequestFailed = errors.New("ollama request failed")
	// ErrConnectionFailed is returned when connection fails for unknown reasons
	ErrConnectionFailed = errors.New("ollama connection failed")
)

// Maximum response size to prevent unbounded memory usage (1 MB)
const maxResponseSize = 1024 * 1024

// Client provides methods to communicate with the ollama API.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ textgen.Generator = (*Client)(nil)

// NewClient creates a new ollama client with default settings.
// The client connects to http://localhost:11434 with a 60-second timeout.
func NewClient() *Client {
	return NewClientWithConfig(DefaultEndpoint, DefaultModel, time.Duration(DefaultTimeout)*time.Second)
}

// NewClientWithConfig creates a new ollama client with custom configuration.
// The timeout applies to non-streaming requests only.
func NewClientWithConfig(endpoint, model string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.Nop(),
	}
}

// SetLogger replaces the client's logger. A nil logger is ignored.
func (c *Client) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *Client) log() *logging.Logger {
	if c.logger == nil {
		return logging.Nop()
	}
	return c.logger
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connect verifies that ollama is reachable and the configured model is available.
//
// Returns ErrNotRunning if ollama is not reachable.
// Returns ErrModelNotFound if the configured model is not available.
// Returns ErrConnectionTimeout if the connection times out.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+EndpointTags, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrRequestFailed, resp.StatusCode)
	}

	var tagsResp TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	for _, model := range tagsResp.Models {
		if model.Name == c.model {
			return nil
		}
	}

	return fmt.Errorf("%w: %s (pull with: ollama pull %s)", ErrModelNotFound, c.model, c.model)
}

// StreamCallback is called for each token received during streaming.
// If the callback returns an error, streaming is aborted.
type StreamCallback func(token StreamToken) error

// Chat sends a chat request to ollama and streams the response.
//
// There is no timeout on streaming requests; use ctx to bound them.
// Only the first message may have role "system". opts may be nil and
// callback may be nil to collect the response silently.
//
// Returns the full concatenated response text.
func (c *Client) Chat(ctx context.Context, messages []Message, opts *Options, callback StreamCallback) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages cannot be empty")
	}

	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if i != 0 {
				return "", errors.New("system message must be first in conversation")
			}
		case RoleUser, RoleAssistant:
		default:
			return "", fmt.Errorf("invalid message role: %q", msg.Role)
		}
	}

	body, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		Options:  opts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+EndpointChat, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// c.httpClient's timeout would cut off long generations.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return "", c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if readErr != nil {
			return "", fmt.Errorf("%w: status %d (failed to read error: %v)", ErrRequestFailed, resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, string(errBody))
	}

	return c.parseStreamingResponse(resp.Body, callback)
}

// Generate implements textgen.Generator. History names are folded into
// the message text so the model can tell speakers apart.
func (c *Client) Generate(ctx context.Context, r textgen.Request) (string, error) {
	src := r.Messages()
	messages := make([]Message, 0, len(src))
	for i, m := range src {
		role := m.Role
		if role == textgen.RoleSystem && i != 0 {
			role = RoleUser
		}
		content := m.Content
		if m.Name != "" {
			content = m.Name + ": " + content
		}
		messages = append(messages, Message{Role: role, Content: content})
	}

	reply, err := c.Chat(ctx, messages, OptionsFromPreset(r.Preset), nil)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", textgen.ErrEmptyReply
	}
	return reply, nil
}

// OptionsFromPreset maps a sampler preset onto ollama options.
// Returns nil when the preset sets nothing.
func OptionsFromPreset(p textgen.Preset) *Options {
	opts := &Options{
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		RepeatPenalty: p.RepeatPenalty,
		NumPredict:    p.MaxTokens,
		Seed:          p.Seed,
	}
	if *opts == (Options{}) {
		return nil
	}
	return opts
}

// parseStreamingResponse reads newline-delimited JSON from the response body
// and calls the callback for each non-empty token.
func (c *Client) parseStreamingResponse(body io.Reader, callback StreamCallback) (string, error) {
	scanner := bufio.NewScanner(body)
	var fullResponse bytes.Buffer

	chunkCount := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		chunkCount++
		if len(line) == 0 {
			continue
		}

		var chatResp ChatResponse
		if err := json.Unmarshal(line, &chatResp); err != nil {
			c.log().Debug("chunk %d: failed to parse JSON: %v", chunkCount, err)
			return "", fmt.Errorf("failed to parse response: %w", err)
		}

		token := chatResp.Message.Content
		fullResponse.WriteString(token)

		if fullResponse.Len() > maxResponseSize {
			return fullResponse.String(), fmt.Errorf("response too large (>%d bytes)", maxResponseSize)
		}

		if callback != nil && token != "" {
			if err := callback(StreamToken{Content: token}); err != nil {
				return fullResponse.String(), fmt.Errorf("callback error after %d bytes: %w", fullResponse.Len(), err)
			}
		}

		if chatResp.Done {
			c.log().Debug("ollama stream done after %d chunks (reason=%s, eval_count=%d)",
				chunkCount, chatResp.DoneReason, chatResp.EvalCount)
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fullResponse.String(), fmt.Errorf("stream read error: %w", err)
	}

	return fullResponse.String(), nil
}

func (c *Client) wrapTransportError(err error) error {
	classified := c.classifyError(err)
	if errors.Is(classified, ErrNotRunning) {
		return fmt.Errorf("%w at %s (start with: ollama serve)", ErrNotRunning, c.endpoint)
	}
	return classified
}

// classifyError converts low-level HTTP errors into user-friendly errors.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectionTimeout
	}

	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return ErrNotRunning
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) && syscallErr == syscall.ECONNREFUSED {
		return ErrNotRunning
	}

	// DNS errors, TLS errors, etc.
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}
