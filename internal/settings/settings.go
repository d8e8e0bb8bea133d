// Package settings holds the user-editable generation settings and their
// SQL persistence.
package settings

import (
	"strings"

	"github.com/hurricanerix/tagweave/internal/config"
)

// CharacterID identifies a character (its card file name).
type CharacterID string

// Override is per-character prompt material. Every field may be empty.
type Override struct {
	PromptPrefix        string `json:"prompt_prefix"`
	PeopleID            string `json:"people_id"`
	ExtraPositivePrompt string `json:"extra_positive_prompt"`
	NegativePrompt      string `json:"negative_prompt"`
}

// IsZero reports whether every field is empty.
func (o Override) IsZero() bool {
	return o == Override{}
}

// Subject is who a generation is about: one character, or a group chat.
type Subject struct {
	Name      string      `json:"name"`
	Character CharacterID `json:"character,omitempty"`
	Group     bool        `json:"group,omitempty"`
}

// Settings are the user-editable values consulted by each generation.
type Settings struct {
	ComfyURL               string                   `json:"comfy_url"`
	WorkflowFile           string                   `json:"workflow_file"`
	PresetName             string                   `json:"preset_name"`
	QuickImpersonatePrompt string                   `json:"quick_impersonate_prompt"`
	Characters             map[CharacterID]Override `json:"characters"`
}

// Defaults returns the settings used before anything has been saved.
func Defaults(cfg *config.Config) Settings {
	return Settings{
		ComfyURL:     cfg.Comfy.URL,
		WorkflowFile: cfg.Comfy.Workflow,
		PresetName:   cfg.Text.DefaultPreset,
		Characters:   map[CharacterID]Override{},
	}
}

// Override returns the override for subject. Groups and characters without
// an entry get the empty override.
func (s Settings) Override(subject Subject) Override {
	if subject.Group || subject.Character == "" {
		return Override{}
	}
	return s.Characters[subject.Character]
}

// Clone returns a copy that shares no map with s.
func (s Settings) Clone() Settings {
	out := s
	out.Characters = make(map[CharacterID]Override, len(s.Characters))
	for id, o := range s.Characters {
		out.Characters[id] = o
	}
	return out
}

// Normalize trims surrounding whitespace from scalar fields.
func (s *Settings) Normalize() {
	s.ComfyURL = strings.TrimSpace(s.ComfyURL)
	s.WorkflowFile = strings.TrimSpace(s.WorkflowFile)
	s.PresetName = strings.TrimSpace(s.PresetName)
	if s.Characters == nil {
		s.Characters = map[CharacterID]Override{}
	}
}
