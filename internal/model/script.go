package model

import (
	"fmt"
	"time"
)

// ParamSpec declares a single script parameter: its type, default and
// constraints. Which constraint fields apply depends on Type.
type ParamSpec struct {
	Name        string     `json:"name"`
	Type        ParamType  `json:"type"`
	Description string     `json:"description,omitempty"`
	Default     any        `json:"default,omitempty"`
	Units       ModelUnits `json:"units,omitempty"`

	// number
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	// text
	MinLength *int `json:"minLength,omitempty"`
	MaxLength *int `json:"maxLength,omitempty"`

	// options
	Options []string `json:"options,omitempty"`
}

// ScriptDescriptor describes one parametric CAD script in the library.
// Immutable once loaded; the library swaps whole tables on reload.
type ScriptDescriptor struct {
	Org         string         `json:"org"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Author      string         `json:"author,omitempty"`
	Description string         `json:"description,omitempty"`
	Engine      Engine         `json:"engine"`
	License     ContentLicense `json:"license,omitempty"`

	// Params is keyed by parameter name; specs carry their name too so
	// callers can iterate either way.
	Params  map[string]*ParamSpec     `json:"params,omitempty"`
	Presets map[string]map[string]any `json:"presets,omitempty"`

	DefaultFormat ModelFormat `json:"defaultFormat,omitempty"`
	Code          string      `json:"-"`
	Published     bool        `json:"published"`
	CreatedAt     time.Time   `json:"createdAt,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt,omitempty"`
}

// ID returns the org-scoped script identity without version.
func (s *ScriptDescriptor) ID() string {
	return s.Org + "/" + s.Name
}

// FullID returns the org-scoped script identity including version.
func (s *ScriptDescriptor) FullID() string {
	return fmt.Sprintf("%s/%s@%s", s.Org, s.Name, s.Version)
}

// Preset returns the named preset parameter set, or nil.
func (s *ScriptDescriptor) Preset(name string) map[string]any {
	if s.Presets == nil {
		return nil
	}
	return s.Presets[name]
}
