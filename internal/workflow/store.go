package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// Extension is the file extension of workflow templates.
	Extension = ".json"

	// DefaultCacheTTL is how long a loaded template is served from memory.
	DefaultCacheTTL = 5 * time.Minute

	// MaxTemplateSize bounds a template file (4MB).
	MaxTemplateSize = 4 * 1024 * 1024
)

var (
	// ErrNotFound is returned when a template file does not exist.
	ErrNotFound = errors.New("workflow not found")
	// ErrInvalidName is returned for names that are empty, contain path
	// separators or do not end in .json.
	ErrInvalidName = errors.New("invalid workflow name")
	// ErrTooLarge is returned when a template exceeds MaxTemplateSize.
	ErrTooLarge = errors.New("workflow exceeds maximum size")
)

// Store serves workflow templates from a directory.
// Loaded templates are cached in memory for the configured TTL.
type Store struct {
	dir   string
	cache *cache.Cache
}

// NewStore creates a store rooted at dir. A ttl <= 0 uses DefaultCacheTTL.
func NewStore(dir string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		dir:   dir,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Dir returns the template directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the sorted names of all templates in the directory.
// A missing directory yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load returns the template named name.
// The template must be valid JSON.
func (s *Store) Load(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	if cached, ok := s.cache.Get(name); ok {
		return cached.(string), nil
	}

	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to stat workflow: %w", err)
	}
	if info.Size() > MaxTemplateSize {
		return "", fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, name, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read workflow: %w", err)
	}

	template := string(data)
	if err := Validate(template); err != nil {
		return "", fmt.Errorf("%w: %s", err, name)
	}

	s.cache.SetDefault(name, template)
	return template, nil
}

// Invalidate drops all cached templates.
func (s *Store) Invalidate() {
	s.cache.Flush()
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if !strings.HasSuffix(name, Extension) {
		return fmt.Errorf("%w: %q must end in %s", ErrInvalidName, name, Extension)
	}
	return nil
}
