package settings

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hurricanerix/tagweave/internal/config"
)

//go:embed schema.sql
var schema string

// ErrInvalidCharacter is returned for an empty character id.
var ErrInvalidCharacter = errors.New("character id must not be empty")

// Setting names in the settings table
const (
	keyComfyURL         = "comfy_url"
	keyWorkflowFile     = "workflow_file"
	keyPresetName       = "preset_name"
	keyQuickImpersonate = "quick_impersonate_prompt"
)

// Both drivers accept $n placeholders and ON CONFLICT upserts.
const (
	upsertSetting = `INSERT INTO settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`
	upsertCharacter = `INSERT INTO character_overrides
		(character_id, prompt_prefix, people_id, extra_positive_prompt, negative_prompt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (character_id) DO UPDATE SET
			prompt_prefix = excluded.prompt_prefix,
			people_id = excluded.people_id,
			extra_positive_prompt = excluded.extra_positive_prompt,
			negative_prompt = excluded.negative_prompt,
			updated_at = excluded.updated_at`
)

// Store persists Settings in a SQL database.
type Store struct {
	db       *sql.DB
	defaults Settings
}

// Open connects to the database, applies the schema and returns a store
// that fills unsaved values from defaults.
func Open(ctx context.Context, driver, dsn string, defaults Settings) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	switch driver {
	case config.DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == config.DriverSQLite {
		// One writer; also keeps ":memory:" to a single database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	defaults.Normalize()
	return &Store{db: db, defaults: defaults}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the saved settings, with defaults for anything unsaved.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	out := s.defaults.Clone()

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Settings{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		switch name {
		case keyComfyURL:
			out.ComfyURL = value
		case keyWorkflowFile:
			out.WorkflowFile = value
		case keyPresetName:
			out.PresetName = value
		case keyQuickImpersonate:
			out.QuickImpersonatePrompt = value
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("failed to iterate settings: %w", err)
	}

	chars, err := s.db.QueryContext(ctx, `SELECT character_id, prompt_prefix, people_id,
		extra_positive_prompt, negative_prompt FROM character_overrides`)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query character overrides: %w", err)
	}
	defer chars.Close()

	for chars.Next() {
		var id string
		var o Override
		if err := chars.Scan(&id, &o.PromptPrefix, &o.PeopleID, &o.ExtraPositivePrompt, &o.NegativePrompt); err != nil {
			return Settings{}, fmt.Errorf("failed to scan character override: %w", err)
		}
		out.Characters[CharacterID(id)] = o
	}
	if err := chars.Err(); err != nil {
		return Settings{}, fmt.Errorf("failed to iterate character overrides: %w", err)
	}

	return out, nil
}

// Save replaces all stored settings with st.
func (s *Store) Save(ctx context.Context, st Settings) error {
	st.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for name, value := range map[string]string{
		keyComfyURL:         st.ComfyURL,
		keyWorkflowFile:     st.WorkflowFile,
		keyPresetName:       st.PresetName,
		keyQuickImpersonate: st.QuickImpersonatePrompt,
	} {
		if _, err := tx.ExecContext(ctx, upsertSetting, name, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM character_overrides`); err != nil {
		return fmt.Errorf("failed to clear character overrides: %w", err)
	}
	now := time.Now().UTC()
	for id, o := range st.Characters {
		if id == "" {
			return ErrInvalidCharacter
		}
		if _, err := tx.ExecContext(ctx, upsertCharacter, string(id),
			o.PromptPrefix, o.PeopleID, o.ExtraPositivePrompt, o.NegativePrompt, now); err != nil {
			return fmt.Errorf("failed to save character %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

// SaveCharacter stores the override for one character. An all-empty
// override deletes the entry, since absence already means empty.
func (s *Store) SaveCharacter(ctx context.Context, id CharacterID, o Override) error {
	if id == "" {
		return ErrInvalidCharacter
	}
	if o.IsZero() {
		return s.DeleteCharacter(ctx, id)
	}
	_, err := s.db.ExecContext(ctx, upsertCharacter, string(id),
		o.PromptPrefix, o.PeopleID, o.ExtraPositivePrompt, o.NegativePrompt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save character %s: %w", id, err)
	}
	return nil
}

// DeleteCharacter removes the override for one character. Deleting a
// missing entry is not an error.
func (s *Store) DeleteCharacter(ctx context.Context, id CharacterID) error {
	if id == "" {
		return ErrInvalidCharacter
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM character_overrides WHERE character_id = $1`, string(id)); err != nil {
		return fmt.Errorf("failed to delete character %s: %w", id, err)
	}
	return nil
}
