// Package config provides configuration management for tagweave.
//
// Configuration is read from an optional YAML file, then overridden by
// environment variables (a .env file is loaded first if present), then by
// CLI flags bound in cmd/tagweave. The Config struct is passed to
// components during initialization.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hurricanerix/tagweave/internal/textgen"
)

const (
	// Version is the tagweave application version
	Version = "0.3.0"

	// DefaultPath is the config file read when no path is given
	DefaultPath = "tagweave.yaml"

	// Text backends
	BackendOllama = "ollama"
	BackendOpenAI = "openai"

	// Storage drivers
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultPort              = 8080
	defaultLogLevel          = "info"
	defaultComfyURL          = "http://127.0.0.1:8188"
	defaultComfyTimeout      = "30s"
	defaultPollInterval      = "1s"
	defaultGenerationTimeout = "5m"
	defaultWorkflowDir       = "workflows"
	defaultWorkflow          = "Default_Comfy_Workflow.json"
	defaultCacheTTL          = "5m"
	defaultTextURL           = "http://localhost:11434"
	defaultTextModel         = "mistral:7b"
	defaultTextTimeout       = "60s"
	defaultSeed              = -1
	defaultNarrator          = "Narrator"
	defaultViewerAlias       = "a man"
	defaultSubjectAlias      = "a woman"
	defaultDSN               = "tagweave.db"
	defaultImageDir          = "images"
	defaultMaxImages         = 100
	defaultRateLimit         = 2.0
	defaultRateBurst         = 5

	// DefaultImpersonateInstruction is used when neither the request nor
	// the settings carry an impersonation prompt.
	DefaultImpersonateInstruction = "Write the next reply from the user's point of view. Stay in character and keep it short."

	// Validation constraints
	minPort = 1024
	maxPort = 65535
	minSeed = -1
)

var (
	// ErrInvalidPort is returned when port is out of valid range
	ErrInvalidPort = errors.New("port must be between 1024 and 65535")
	// ErrInvalidLogLevel is returned when log level is not recognized
	ErrInvalidLogLevel = errors.New("log-level must be one of: debug, info, warn, error")
	// ErrInvalidSeed is returned when seed is less than -1
	ErrInvalidSeed = errors.New("seed must be >= -1 (use -1 for random)")
	// ErrInvalidBackend is returned for an unknown text backend
	ErrInvalidBackend = errors.New("text backend must be one of: ollama, openai")
	// ErrInvalidURL is returned when a URL is not absolute http(s)
	ErrInvalidURL = errors.New("url must be an absolute http or https URL")
	// ErrUnknownPreset is returned when the default preset does not exist
	ErrUnknownPreset = errors.New("default preset is not defined")
	// ErrInvalidDriver is returned for an unknown storage driver
	ErrInvalidDriver = errors.New("storage driver must be one of: sqlite3, postgres")
	// ErrUnknownMode is returned when a mode reference names no mode
	ErrUnknownMode = errors.New("unknown generation mode")
	// ErrInvalidDuration is returned when a duration string does not parse
	ErrInvalidDuration = errors.New("invalid duration")
)

// Config holds all configuration values for tagweave.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Comfy      ComfyConfig      `yaml:"comfy"`
	Text       TextConfig       `yaml:"text"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	// RateLimit is the sustained requests per second allowed per session
	// on generation endpoints.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// ComfyConfig configures the ComfyUI client and workflow templates.
type ComfyConfig struct {
	URL               string `yaml:"url"`
	Timeout           string `yaml:"timeout"`
	PollInterval      string `yaml:"poll_interval"`
	GenerationTimeout string `yaml:"generation_timeout"`
	WorkflowDir       string `yaml:"workflow_dir"`
	Workflow          string `yaml:"workflow"`
	CacheTTL          string `yaml:"cache_ttl"`
}

// TextConfig configures the text-generation backend.
type TextConfig struct {
	Backend       string                    `yaml:"backend"`
	URL           string                    `yaml:"url"`
	Model         string                    `yaml:"model"`
	APIKey        string                    `yaml:"api_key"`
	Timeout       string                    `yaml:"timeout"`
	Presets       map[string]textgen.Preset `yaml:"presets"`
	DefaultPreset string                    `yaml:"default_preset"`
}

// Mode is a named picture generation mode: an instruction sent to the text
// backend and a prefix placed before the sanitized reply.
type Mode struct {
	Instruction string `yaml:"instruction"`
	Prefix      string `yaml:"prefix"`
	// AppendExtra appends a reply to the extra mode's instruction when no
	// redirect applied.
	AppendExtra bool `yaml:"append_extra"`
}

// Redirect regenerates a picture prompt with mode To when a prompt built
// with mode From contains any keyword.
type Redirect struct {
	From     string   `yaml:"from"`
	To       string   `yaml:"to"`
	Keywords []string `yaml:"keywords"`
}

// GenerationConfig configures picture and scene generation.
type GenerationConfig struct {
	Seed                   int64           `yaml:"seed"`
	Modes                  map[string]Mode `yaml:"modes"`
	ExtraMode              string          `yaml:"extra_mode"`
	Redirects              []Redirect      `yaml:"redirects"`
	ViewerAlias            string          `yaml:"viewer_alias"`
	SubjectAlias           string          `yaml:"subject_alias"`
	ImpersonateInstruction string          `yaml:"impersonate_instruction"`
	NarratorName           string          `yaml:"narrator_name"`
}

// StorageConfig configures settings persistence and saved images.
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	ImageDir  string `yaml:"image_dir"`
	MaxImages int    `yaml:"max_images"`
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      defaultPort,
			LogLevel:  defaultLogLevel,
			RateLimit: defaultRateLimit,
			RateBurst: defaultRateBurst,
		},
		Comfy: ComfyConfig{
			URL:               defaultComfyURL,
			Timeout:           defaultComfyTimeout,
			PollInterval:      defaultPollInterval,
			GenerationTimeout: defaultGenerationTimeout,
			WorkflowDir:       defaultWorkflowDir,
			Workflow:          defaultWorkflow,
			CacheTTL:          defaultCacheTTL,
		},
		Text: TextConfig{
			Backend:       BackendOllama,
			URL:           defaultTextURL,
			Model:         defaultTextModel,
			Timeout:       defaultTextTimeout,
			DefaultPreset: textgen.PresetDeterministic,
		},
		Generation: GenerationConfig{
			Seed: defaultSeed,
			Modes: map[string]Mode{
				"pov": {
					Instruction: "Describe what the viewer sees right now as a comma-separated list of short visual keywords. Do not write sentences.",
					Prefix:      "pov",
					AppendExtra: true,
				},
				"character": {
					Instruction: "Describe {{char}}'s current appearance, clothing and pose as a comma-separated list of short visual keywords.",
					Prefix:      "solo, portrait",
				},
				"scene": {
					Instruction: "Describe the current location and surroundings as a comma-separated list of short visual keywords. Do not describe people.",
					Prefix:      "scenery, no humans",
				},
				"extra": {},
			},
			ExtraMode:              "extra",
			ViewerAlias:            defaultViewerAlias,
			SubjectAlias:           defaultSubjectAlias,
			ImpersonateInstruction: DefaultImpersonateInstruction,
			NarratorName:           defaultNarrator,
		},
		Storage: StorageConfig{
			Driver:    DriverSQLite,
			DSN:       defaultDSN,
			ImageDir:  defaultImageDir,
			MaxImages: defaultMaxImages,
		},
	}
}

// Load reads configuration from the YAML file at path on top of the
// defaults, then applies environment overrides. A missing file is not an
// error. envFile names a dotenv file to load first; empty means ".env".
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("TAGWEAVE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TAGWEAVE_PORT=%q", ErrInvalidPort, v)
		}
		c.Server.Port = port
	}

	overrides := []struct {
		env string
		dst *string
	}{
		{"TAGWEAVE_LOG_LEVEL", &c.Server.LogLevel},
		{"TAGWEAVE_COMFY_URL", &c.Comfy.URL},
		{"TAGWEAVE_WORKFLOW_DIR", &c.Comfy.WorkflowDir},
		{"TAGWEAVE_TEXT_BACKEND", &c.Text.Backend},
		{"TAGWEAVE_TEXT_URL", &c.Text.URL},
		{"TAGWEAVE_TEXT_MODEL", &c.Text.Model},
		{"OPENAI_API_KEY", &c.Text.APIKey},
		{"TAGWEAVE_DB_DRIVER", &c.Storage.Driver},
		{"TAGWEAVE_DB_DSN", &c.Storage.DSN},
		{"TAGWEAVE_IMAGE_DIR", &c.Storage.ImageDir},
	}
	for _, s := range overrides {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	return nil
}

// Validate checks that all configuration values are within valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < minPort || c.Server.Port > maxPort {
		return ErrInvalidPort
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	if c.Generation.Seed < minSeed {
		return ErrInvalidSeed
	}

	switch c.Text.Backend {
	case BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Text.Backend)
	}

	if err := validateURL(c.Text.URL, c.Text.Backend == BackendOpenAI); err != nil {
		return fmt.Errorf("text url: %w", err)
	}
	// An empty ComfyUI URL is allowed here; it can be set at runtime.
	if err := validateURL(c.Comfy.URL, true); err != nil {
		return fmt.Errorf("comfy url: %w", err)
	}

	for name, d := range map[string]string{
		"comfy.timeout":            c.Comfy.Timeout,
		"comfy.poll_interval":      c.Comfy.PollInterval,
		"comfy.generation_timeout": c.Comfy.GenerationTimeout,
		"comfy.cache_ttl":          c.Comfy.CacheTTL,
		"text.timeout":             c.Text.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidDuration, name, d)
		}
	}

	if _, err := c.Presets().Lookup(c.Text.DefaultPreset); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, c.Text.DefaultPreset)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Storage.Driver)
	}

	if err := c.validateModes(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateModes() error {
	modes := c.Generation.Modes
	if name := c.Generation.ExtraMode; name != "" {
		if _, ok := modes[name]; !ok {
			return fmt.Errorf("%w: extra_mode %q", ErrUnknownMode, name)
		}
	}
	for i, r := range c.Generation.Redirects {
		if _, ok := modes[r.From]; !ok {
			return fmt.Errorf("%w: redirects[%d].from %q", ErrUnknownMode, i, r.From)
		}
		if _, ok := modes[r.To]; !ok {
			return fmt.Errorf("%w: redirects[%d].to %q", ErrUnknownMode, i, r.To)
		}
	}
	return nil
}

// validateURL accepts an absolute http(s) URL. Empty is accepted when
// allowEmpty is set.
func validateURL(raw string, allowEmpty bool) error {
	if raw == "" {
		if allowEmpty {
			return nil
		}
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// Presets returns the sampler preset registry: built-ins overlaid with
// configured presets.
func (c *Config) Presets() *textgen.Presets {
	return textgen.NewPresets(c.Text.Presets)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetComfyTimeout returns the timeout for non-generation ComfyUI requests.
func (c *Config) GetComfyTimeout() time.Duration {
	return parseDuration(c.Comfy.Timeout, 30*time.Second)
}

// GetPollInterval returns how often ComfyUI history is polled.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Comfy.PollInterval, time.Second)
}

// GetGenerationTimeout bounds a full ComfyUI generation.
func (c *Config) GetGenerationTimeout() time.Duration {
	return parseDuration(c.Comfy.GenerationTimeout, 5*time.Minute)
}

// GetCacheTTL returns how long loaded workflow templates are cached.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Comfy.CacheTTL, 5*time.Minute)
}

// GetTextTimeout returns the text backend request timeout.
func (c *Config) GetTextTimeout() time.Duration {
	return parseDuration(c.Text.Timeout, 60*time.Second)
}
