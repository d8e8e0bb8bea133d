// Package startup wires tagweave's components together and checks that
// the text and image backends are reachable before serving.
package startup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hurricanerix/tagweave/internal/comfy"
	"github.com/hurricanerix/tagweave/internal/config"
)

var (
	// ErrTextNotRunning is returned when the text backend is not reachable
	ErrTextNotRunning = errors.New("text backend not running")
	// ErrComfyNotRunning is returned when ComfyUI is not reachable
	ErrComfyNotRunning = errors.New("ComfyUI not running")
)

const (
	// probeTimeout bounds each validation request
	probeTimeout = 5 * time.Second
)

// ValidateText checks that the configured text backend answers.
// Ollama is probed at /api/tags, OpenAI-compatible servers at /models.
func ValidateText(ctx context.Context, cfg *config.Config) error {
	switch cfg.Text.Backend {
	case config.BackendOllama:
		return probe(ctx, cfg.Text.URL, "/api/tags", "")
	case config.BackendOpenAI:
		if cfg.Text.URL == "" {
			// Hosted API; nothing local to check.
			return nil
		}
		return probe(ctx, cfg.Text.URL, "/models", cfg.Text.APIKey)
	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Text.Backend)
	}
}

// ValidateComfy checks that ComfyUI answers at baseURL.
func ValidateComfy(ctx context.Context, baseURL string) error {
	if err := validateBaseURL(baseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrComfyNotRunning, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := comfy.NewClient(baseURL).Ping(ctx); err != nil {
		return fmt.Errorf("%w at %s: %v", ErrComfyNotRunning, baseURL, err)
	}
	return nil
}

// validateBaseURL accepts only absolute http(s) URLs with a host.
func validateBaseURL(baseURL string) error {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme, got: %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// probe sends GET baseURL+path and expects a 2xx answer. A non-empty
// apiKey is sent as a bearer token.
func probe(ctx context.Context, baseURL, path, apiKey string) error {
	if err := validateBaseURL(baseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrTextNotRunning, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	parsed, _ := url.Parse(baseURL)
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	parsed.RawQuery = ""
	parsed.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return fmt.Errorf("%w at %s: failed to create request: %v", ErrTextNotRunning, baseURL, err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w at %s: connection timeout", ErrTextNotRunning, baseURL)
		}
		return fmt.Errorf("%w at %s: %v", ErrTextNotRunning, baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w at %s: unexpected status code %d", ErrTextNotRunning, baseURL, resp.StatusCode)
}
