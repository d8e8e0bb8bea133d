package textgen

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownPreset is returned when a preset name is not registered.
var ErrUnknownPreset = errors.New("unknown sampler preset")

// Built-in preset names
const (
	PresetDeterministic = "Deterministic"
	PresetDefault       = "Default"
)

// Preset is a named set of sampler parameters. Nil fields leave the
// backend's own default in place.
type Preset struct {
	Name          string   `yaml:"-" json:"name"`
	Temperature   *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP          *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	TopK          *int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	RepeatPenalty *float64 `yaml:"repeat_penalty,omitempty" json:"repeat_penalty,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Seed          *int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// BuiltinPresets returns the presets available without configuration.
func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		PresetDeterministic: {
			Name:          PresetDeterministic,
			Temperature:   floatPtr(0),
			TopP:          floatPtr(1),
			TopK:          intPtr(1),
			RepeatPenalty: floatPtr(1),
		},
		PresetDefault: {
			Name:        PresetDefault,
			Temperature: floatPtr(0.7),
			TopP:        floatPtr(0.9),
			TopK:        intPtr(40),
		},
	}
}

// Presets is a registry of sampler presets keyed by name.
type Presets struct {
	byName map[string]Preset
}

// NewPresets returns a registry holding the built-in presets overlaid with
// extra. An extra preset with a built-in name replaces it.
func NewPresets(extra map[string]Preset) *Presets {
	byName := BuiltinPresets()
	for name, p := range extra {
		p.Name = name
		byName[name] = p
	}
	return &Presets{byName: byName}
}

// Lookup returns the preset called name.
func (p *Presets) Lookup(name string) (Preset, error) {
	preset, ok := p.byName[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return preset, nil
}

// Names returns all preset names, sorted.
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
