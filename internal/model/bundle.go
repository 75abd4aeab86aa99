package model

import "time"

// ModelEntry is a single format variant inside a bundle.
type ModelEntry struct {
	Format     ModelFormat `json:"format"`
	Content    string      `json:"content,omitempty"`
	Encoding   string      `json:"encoding"`
	StorageRef string      `json:"storageRef,omitempty"`
}

// GenerationMeta records how a bundle was produced.
type GenerationMeta struct {
	Engine      Engine    `json:"engine"`
	Duration    int64     `json:"duration"` // ms
	GeneratedAt time.Time `json:"generatedAt"`
}

// ComponentBundle is the packaged output of one successful job: the script
// identity, the exact parameter set used and one or more model formats.
// Immutable once produced; shared by every cache hit on its fingerprint.
type ComponentBundle struct {
	Org         string                      `json:"org"`
	Name        string                      `json:"name"`
	Version     string                      `json:"version"`
	Fingerprint string                      `json:"fingerprint"`
	License     ContentLicense              `json:"license,omitempty"`
	Params      map[string]any              `json:"params"`
	Models      map[ModelFormat]ModelEntry  `json:"models"`
	Meta        GenerationMeta              `json:"meta"`
}

// Model returns the entry for a format, or nil if the bundle lacks it.
func (b *ComponentBundle) Model(f ModelFormat) *ModelEntry {
	if e, ok := b.Models[f]; ok {
		return &e
	}
	return nil
}
