package startup

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurricanerix/tagweave/internal/comfy"
	"github.com/hurricanerix/tagweave/internal/config"
	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/ollama"
	"github.com/hurricanerix/tagweave/internal/openaicompat"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Comfy.WorkflowDir = t.TempDir()
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "settings.db")
	cfg.Storage.ImageDir = t.TempDir()
	return cfg
}

func TestCreateLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "debug"

	var buf bytes.Buffer
	logger := CreateLogger(cfg, &buf)
	if logger == nil {
		t.Fatal("CreateLogger() returned nil")
	}
	if logger.GetLevel() != logging.LevelDebug {
		t.Errorf("GetLevel() = %v, want %v", logger.GetLevel(), logging.LevelDebug)
	}

	logger.Debug("hello %s", "world")
	logger.Sync()
	if !strings.Contains(buf.String(), "hello world") {
		t.Errorf("log output = %q, want it to contain %q", buf.String(), "hello world")
	}
}

func TestCreateTextGenerator(t *testing.T) {
	logger := logging.Nop()

	cfg := config.Default()
	cfg.Text.Backend = config.BackendOllama
	gen, err := CreateTextGenerator(cfg, logger)
	if err != nil {
		t.Fatalf("CreateTextGenerator(ollama) error = %v", err)
	}
	if _, ok := gen.(*ollama.Client); !ok {
		t.Errorf("CreateTextGenerator(ollama) = %T, want *ollama.Client", gen)
	}

	cfg.Text.Backend = config.BackendOpenAI
	cfg.Text.URL = "http://localhost:5001/v1"
	gen, err = CreateTextGenerator(cfg, logger)
	if err != nil {
		t.Fatalf("CreateTextGenerator(openai) error = %v", err)
	}
	if _, ok := gen.(*openaicompat.Client); !ok {
		t.Errorf("CreateTextGenerator(openai) = %T, want *openaicompat.Client", gen)
	}

	cfg.Text.Backend = "kobold"
	if _, err := CreateTextGenerator(cfg, logger); !errors.Is(err, config.ErrInvalidBackend) {
		t.Errorf("CreateTextGenerator(kobold) error = %v, want ErrInvalidBackend", err)
	}
}

func TestCreateComfyFactory(t *testing.T) {
	var buf bytes.Buffer
	factory := CreateComfyFactory(config.Default(), logging.New(logging.LevelDebug, &buf))
	if factory == nil {
		t.Fatal("CreateComfyFactory() returned nil")
	}

	backend := factory("http://localhost:8188")
	client, ok := backend.(*comfy.Client)
	if !ok {
		t.Fatalf("factory() = %T, want *comfy.Client", backend)
	}
	if client.BaseURL() != "http://localhost:8188" {
		t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), "http://localhost:8188")
	}

	if !strings.Contains(buf.String(), client.ClientID()) {
		t.Errorf("log output = %q, want it to contain client id %q", buf.String(), client.ClientID())
	}
}

func TestCreateSettingsStore_InvalidDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "mysql"

	if _, err := CreateSettingsStore(context.Background(), cfg); err == nil {
		t.Error("CreateSettingsStore() error = nil, want error")
	}
}

func TestInitializeAll(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 18080

	components, err := InitializeAll(context.Background(), cfg, logging.Nop())
	if err != nil {
		t.Fatalf("InitializeAll() error = %v", err)
	}
	defer Shutdown(components)

	if components.Text == nil {
		t.Error("Text is nil")
	}
	if components.Settings == nil {
		t.Error("Settings is nil")
	}
	if components.Workflows == nil {
		t.Error("Workflows is nil")
	}
	if components.Chats == nil {
		t.Error("Chats is nil")
	}
	if components.ImageStorage == nil {
		t.Error("ImageStorage is nil")
	}
	if components.Saved == nil {
		t.Error("Saved is nil")
	}
	if components.Pipeline == nil {
		t.Error("Pipeline is nil")
	}
	if components.WebServer == nil {
		t.Fatal("WebServer is nil")
	}
	if got, want := components.WebServer.Addr(), "localhost:18080"; got != want {
		t.Errorf("WebServer.Addr() = %q, want %q", got, want)
	}

	s, err := components.Settings.Load(context.Background())
	if err != nil {
		t.Fatalf("Settings.Load() error = %v", err)
	}
	if s.WorkflowFile != cfg.Comfy.Workflow {
		t.Errorf("WorkflowFile = %q, want %q", s.WorkflowFile, cfg.Comfy.Workflow)
	}
}

func TestInitializeAll_NoImageDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.ImageDir = ""

	components, err := InitializeAll(context.Background(), cfg, logging.Nop())
	if err != nil {
		t.Fatalf("InitializeAll() error = %v", err)
	}
	defer Shutdown(components)

	if components.Saved != nil {
		t.Error("Saved should be nil when image_dir is empty")
	}
}

func TestShutdown_Nil(t *testing.T) {
	// Must not panic.
	Shutdown(nil)
}
