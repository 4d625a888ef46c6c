// Package history maintains the append-only generation history for a
// session: a flat arena of immutable records with an id index and a pointer
// to the record currently in view.
package history

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind distinguishes a fresh text-to-image generation from an img2img
// refinement of a prior record.
type Kind string

const (
	KindNew        Kind = "new"
	KindRefinement Kind = "refinement"
)

// Record describes one completed generation. Records are immutable once
// appended; the store hands out copies.
type Record struct {
	ID            string    `yaml:"id" json:"id"`
	Kind          Kind      `yaml:"kind" json:"kind"`
	Prompt        string    `yaml:"prompt" json:"prompt"`
	Modification  string    `yaml:"modification,omitempty" json:"modification,omitempty"`
	ParentID      string    `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Seed          int64     `yaml:"seed" json:"seed"`
	Steps         int       `yaml:"steps" json:"steps"`
	GuidanceScale float64   `yaml:"guidance_scale" json:"guidance_scale"`
	Strength      float64   `yaml:"strength,omitempty" json:"strength,omitempty"`
	Width         int       `yaml:"width" json:"width"`
	Height        int       `yaml:"height" json:"height"`
	ImageRef      string    `yaml:"image_ref" json:"image_ref"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
	DurationMs    int64     `yaml:"duration_ms" json:"duration_ms"`
}

// NewID generates a generation record id. Refinement ids carry a suffix so
// the kind is readable from the id alone, matching the artifact naming the
// storage layer uses.
func NewID(kind Kind) string {
	id := fmt.Sprintf("gen_%s", gonanoid.Must(12))
	if kind == KindRefinement {
		id += "_refined"
	}
	return id
}
