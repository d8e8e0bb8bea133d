package startup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hurricanerix/tagweave/internal/config"
)

func textConfig(backend, url string) *config.Config {
	cfg := config.Default()
	cfg.Text.Backend = backend
	cfg.Text.URL = url
	return cfg
}

func TestValidateText_Ollama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := ValidateText(context.Background(), textConfig(config.BackendOllama, server.URL)); err != nil {
		t.Errorf("ValidateText() error = %v, want nil", err)
	}
}

func TestValidateText_OpenAI(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	cfg := textConfig(config.BackendOpenAI, server.URL+"/v1/")
	cfg.Text.APIKey = "secret"
	if err := ValidateText(context.Background(), cfg); err != nil {
		t.Fatalf("ValidateText() error = %v, want nil", err)
	}
	if gotPath != "/v1/models" {
		t.Errorf("path = %q, want %q", gotPath, "/v1/models")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
}

func TestValidateText_OpenAIHosted(t *testing.T) {
	if err := ValidateText(context.Background(), textConfig(config.BackendOpenAI, "")); err != nil {
		t.Errorf("ValidateText() error = %v, want nil", err)
	}
}

func TestValidateText_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"not running", "http://localhost:99999"},
		{"unexpected status", failing.URL},
		{"file scheme", "file:///etc/passwd"},
		{"ftp scheme", "ftp://localhost:11434"},
		{"no scheme", "localhost:11434"},
		{"no host", "http://"},
		{"invalid url", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText(context.Background(), textConfig(config.BackendOllama, tt.url))
			if err == nil {
				t.Fatal("ValidateText() error = nil, want error")
			}
			if !errors.Is(err, ErrTextNotRunning) {
				t.Errorf("error does not wrap ErrTextNotRunning: %v", err)
			}
		})
	}
}

func TestValidateText_PathInjection(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := ValidateText(context.Background(), textConfig(config.BackendOllama, server.URL+"?x=1#frag"))
	if err != nil {
		t.Fatalf("ValidateText() error = %v", err)
	}
	if gotPath != "/api/tags" {
		t.Errorf("path = %q, want %q", gotPath, "/api/tags")
	}
	if gotQuery != "" {
		t.Errorf("query = %q, want empty", gotQuery)
	}
}

func TestValidateText_UnknownBackend(t *testing.T) {
	err := ValidateText(context.Background(), textConfig("kobold", "http://localhost:5001"))
	if !errors.Is(err, config.ErrInvalidBackend) {
		t.Errorf("ValidateText() error = %v, want ErrInvalidBackend", err)
	}
}

func TestValidateComfy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"system":{}}`))
	}))
	defer server.Close()

	if err := ValidateComfy(context.Background(), server.URL); err != nil {
		t.Errorf("ValidateComfy() error = %v, want nil", err)
	}
}

func TestValidateComfy_Errors(t *testing.T) {
	for _, url := range []string{"", "ftp://localhost:8188", "http://localhost:99999"} {
		err := ValidateComfy(context.Background(), url)
		if !errors.Is(err, ErrComfyNotRunning) {
			t.Errorf("ValidateComfy(%q) error = %v, want ErrComfyNotRunning", url, err)
		}
	}
}
