package startup

import (
	"context"
	"fmt"
	"io"

	"github.com/hurricanerix/tagweave/internal/comfy"
	"github.com/hurricanerix/tagweave/internal/config"
	"github.com/hurricanerix/tagweave/internal/conversation"
	"github.com/hurricanerix/tagweave/internal/image"
	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/ollama"
	"github.com/hurricanerix/tagweave/internal/openaicompat"
	"github.com/hurricanerix/tagweave/internal/persistence"
	"github.com/hurricanerix/tagweave/internal/pipeline"
	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/textgen"
	"github.com/hurricanerix/tagweave/internal/web"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

// Components holds all initialized application components
type Components struct {
	Config       *config.Config
	Logger       *logging.Logger
	Text         textgen.Generator
	Settings     *settings.Store
	Workflows    *workflow.Store
	Chats        *conversation.SessionManager
	ImageStorage *image.Storage
	Saved        *persistence.ImageStore
	Pipeline     *pipeline.Pipeline
	WebServer    *web.Server

	// cancel stops the background cleanup goroutines
	cancel context.CancelFunc
}

// CreateLogger creates a logger with the configured log level.
// If out is nil, os.Stderr is used.
func CreateLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	return logging.NewFromString(cfg.Server.LogLevel, out)
}

// CreateTextGenerator creates the configured text backend.
// It does NOT validate the connection - use ValidateText() separately.
func CreateTextGenerator(cfg *config.Config, logger *logging.Logger) (textgen.Generator, error) {
	switch cfg.Text.Backend {
	case config.BackendOllama:
		client := ollama.NewClientWithConfig(cfg.Text.URL, cfg.Text.Model, cfg.GetTextTimeout())
		client.SetLogger(logger.With("component", "ollama"))
		return client, nil
	case config.BackendOpenAI:
		return openaicompat.NewClient(cfg.Text.URL, cfg.Text.APIKey, cfg.Text.Model), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Text.Backend)
	}
}

// CreateComfyFactory returns a factory building ComfyUI clients with the
// configured timeouts.
func CreateComfyFactory(cfg *config.Config, logger *logging.Logger) pipeline.ImageBackendFactory {
	comfyCfg := comfy.Config{
		Timeout:           cfg.GetComfyTimeout(),
		GenerationTimeout: cfg.GetGenerationTimeout(),
		PollInterval:      cfg.GetPollInterval(),
	}
	comfyLogger := logger.With("component", "comfy")
	return func(baseURL string) pipeline.ImageBackend {
		client := comfy.NewClientWithConfig(baseURL, comfyCfg, comfyLogger)
		comfyLogger.Debug("Created ComfyUI client %s for %s", client.ClientID(), client.BaseURL())
		return client
	}
}

// CreateSettingsStore opens the settings database.
func CreateSettingsStore(ctx context.Context, cfg *config.Config) (*settings.Store, error) {
	store, err := settings.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, settings.Defaults(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	return store, nil
}

// InitializeAll creates and initializes all application components.
// It does NOT validate backends - validation should be done separately.
// Call Shutdown to release them.
func InitializeAll(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Components, error) {
	logger.Debug("Initializing components")

	text, err := CreateTextGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Created %s text backend: endpoint=%s, model=%s", cfg.Text.Backend, cfg.Text.URL, cfg.Text.Model)

	store, err := CreateSettingsStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened %s settings store", cfg.Storage.Driver)

	bgCtx, cancel := context.WithCancel(ctx)

	imageStorage := image.NewStorage(cfg.Storage.MaxImages)
	imageStorage.StartCleanup(bgCtx, logger)
	logger.Debug("Created image storage with cleanup enabled (limit %d)", cfg.Storage.MaxImages)

	var saved *persistence.ImageStore
	if cfg.Storage.ImageDir != "" {
		saved = persistence.NewImageStore(cfg.Storage.ImageDir)
		logger.Debug("Saving images under %s", cfg.Storage.ImageDir)
	}

	workflows := workflow.NewStore(cfg.Comfy.WorkflowDir, cfg.GetCacheTTL())
	chats := conversation.NewSessionManager(logger.With("component", "chats"))
	broker := web.NewBroker(logger)

	p := pipeline.New(pipeline.Deps{
		Text:       text,
		Comfy:      CreateComfyFactory(cfg, logger),
		Workflows:  workflows,
		Presets:    cfg.Presets(),
		Generation: cfg.Generation,
		Images:     imageStorage,
		Saved:      saved,
		Chats:      chats,
		Events:     broker,
		Logger:     logger.With("component", "pipeline"),
	})

	server := web.NewServer(p, store, web.Options{
		Addr:      fmt.Sprintf("localhost:%d", cfg.Server.Port),
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Broker:    broker,
		Logger:    logger,
	})
	logger.Debug("Created web server on port %d", cfg.Server.Port)

	return &Components{
		Config:       cfg,
		Logger:       logger,
		Text:         text,
		Settings:     store,
		Workflows:    workflows,
		Chats:        chats,
		ImageStorage: imageStorage,
		Saved:        saved,
		Pipeline:     p,
		WebServer:    server,
		cancel:       cancel,
	}, nil
}
