package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/hurricanerix/tagweave/internal/logging"
)

var (
	// ErrRequestFailed is returned when ComfyUI answers with a non-2xx status.
	ErrRequestFailed = errors.New("ComfyUI returned an error")
	// ErrNotRunning is returned when nothing is listening at the configured URL.
	ErrNotRunning = errors.New("ComfyUI not running")
	// ErrConnectionTimeout is returned when a request times out.
	ErrConnectionTimeout = errors.New("ComfyUI connection timeout")
	// ErrConnectionFailed is returned when connection fails for unknown reasons.
	ErrConnectionFailed = errors.New("ComfyUI connection failed")
	// ErrInvalidWorkflow is returned when the workflow is not valid JSON.
	ErrInvalidWorkflow = errors.New("workflow is not valid JSON")
	// ErrRejected is returned when ComfyUI refuses to queue a workflow.
	ErrRejected = errors.New("ComfyUI rejected the workflow")
	// ErrExecutionFailed is returned when a queued prompt fails to run.
	ErrExecutionFailed = errors.New("ComfyUI execution failed")
	// ErrNoImage is returned when a finished prompt produced no image data.
	ErrNoImage = errors.New("endpoint did not return image data")
)

// Config holds client tuning parameters. Zero values select the defaults.
type Config struct {
	Timeout           time.Duration
	GenerationTimeout time.Duration
	PollInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval * time.Second
	}
	return c
}

// Client talks to one ComfyUI server.
type Client struct {
	baseURL    string
	clientID   string
	cfg        Config
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a client for baseURL with default settings.
func NewClient(baseURL string) *Client {
	return NewClientWithConfig(baseURL, Config{}, nil)
}

// NewClientWithConfig creates a client for baseURL. logger may be nil.
func NewClientWithConfig(baseURL string, cfg Config, logger *logging.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   uuid.New().String(),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ClientID returns the id sent with every queued prompt.
func (c *Client) ClientID() string {
	return c.clientID
}

// Ping checks that the server answers GET /system_stats.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, EndpointSystemStats, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return nil
}

// Submit queues workflow and returns the prompt id ComfyUI assigned.
func (c *Client) Submit(ctx context.Context, workflow string) (string, error) {
	if !gjson.Valid(workflow) {
		return "", ErrInvalidWorkflow
	}

	body, err := json.Marshal(promptRequest{
		Prompt:   json.RawMessage(workflow),
		ClientID: c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndpointPrompt, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s", ErrRejected, truncate(respBody, 512))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(respBody, 512))
	}

	var pr promptResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(pr.NodeErrors) > 0 {
		return "", fmt.Errorf("%w: %d node errors", ErrRejected, len(pr.NodeErrors))
	}
	if pr.PromptID == "" {
		return "", fmt.Errorf("%w: response has no prompt_id", ErrRequestFailed)
	}

	c.logger.Debug("queued prompt %s (queue position %d)", pr.PromptID, pr.Number)
	return pr.PromptID, nil
}

// Wait polls the history of promptID until it finishes and returns the
// first output image reference.
func (c *Client) Wait(ctx context.Context, promptID string) (ImageRef, error) {
	limiter := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ImageRef{}, c.classifyError(ctx.Err())
			}
			// The next poll would land past the deadline.
			return ImageRef{}, ErrConnectionTimeout
		}

		entry, done, err := c.history(ctx, promptID)
		if err != nil {
			return ImageRef{}, err
		}
		if !done {
			continue
		}

		if entry.Status.StatusStr == StatusError {
			return ImageRef{}, fmt.Errorf("%w: prompt %s", ErrExecutionFailed, promptID)
		}

		ref, ok := firstImage(entry.Outputs)
		if !ok {
			if entry.Status.Completed || entry.Status.StatusStr == StatusSuccess {
				return ImageRef{}, ErrNoImage
			}
			continue
		}
		return ref, nil
	}
}

// history returns the history entry for promptID. done is false while the
// prompt is still queued or running.
func (c *Client) history(ctx context.Context, promptID string) (historyEntry, bool, error) {
	resp, err := c.get(ctx, EndpointHistory+url.PathEscape(promptID), nil)
	if err != nil {
		return historyEntry{}, false, err
	}
	defer resp.Body.Close()

	var entries map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return historyEntry{}, false, fmt.Errorf("failed to decode history: %w", err)
	}

	entry, ok := entries[promptID]
	return entry, ok, nil
}

// firstImage picks the first image of the lowest-numbered output node,
// preferring saved outputs over temporary previews.
func firstImage(outputs map[string]nodeOutput) (ImageRef, bool) {
	nodes := make([]string, 0, len(outputs))
	for id := range outputs {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodeLess(nodes[i], nodes[j])
	})

	var fallback *ImageRef
	for _, id := range nodes {
		for i := range outputs[id].Images {
			img := outputs[id].Images[i]
			if img.Type == "output" {
				return img, true
			}
			if fallback == nil {
				fallback = &img
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return ImageRef{}, false
}

// nodeLess orders node ids numerically, falling back to string order when
// either id is not a number. Numeric ids sort before the rest.
func nodeLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// Fetch downloads the image referenced by ref.
func (c *Client) Fetch(ctx context.Context, ref ImageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	resp, err := c.get(ctx, EndpointView, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image too large (>%d bytes)", maxImageSize)
	}
	return data, nil
}

// Generate queues workflow, waits for it and downloads the result. The
// whole call is bounded by the configured generation timeout.
func (c *Client) Generate(ctx context.Context, workflow string) (Image, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	promptID, err := c.Submit(ctx, workflow)
	if err != nil {
		return Image{}, err
	}

	ref, err := c.Wait(ctx, promptID)
	if err != nil {
		return Image{}, err
	}

	data, err := c.Fetch(ctx, ref)
	if err != nil {
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, ErrNoImage
	}

	c.logger.Info("ComfyUI generated %s (%d bytes) in %s", ref.Filename, len(data), time.Since(start).Round(time.Millisecond))
	return Image{Format: "png", Data: data}, nil
}

// get issues a GET and returns the response if the status is 2xx.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.wrapTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func (c *Client) wrapTransportError(err error) error {
	classified := c.classifyError(err)
	if errors.Is(classified, ErrNotRunning) {
		return fmt.Errorf("%w at %s", ErrNotRunning, c.baseURL)
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

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) && syscallErr == syscall.ECONNREFUSED {
		return ErrNotRunning
	}

	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}
