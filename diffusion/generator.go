// Package diffusion defines the interface to the image-generation model and
// provides two implementations: a scripted mock for tests and local runs,
// and an OpenAI-backed provider.
//
// The model is a black box to the rest of the system. It is handed a prompt
// and numeric parameters, reports step progress through a callback, and
// returns an opaque reference to the produced artifact.
package diffusion

import (
	"context"
	"fmt"
	"time"
)

// ProgressFunc is invoked at model-internal step boundaries. Implementations
// must not block; callers forward the notification and return.
type ProgressFunc func(step, totalSteps int)

// Request carries the parameters for a text-to-image generation.
type Request struct {
	Prompt        string
	Seed          int64
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
}

// RefineRequest carries the parameters for an image-to-image refinement of
// an existing artifact.
type RefineRequest struct {
	ImageRef      string
	Prompt        string
	Strength      float64
	Seed          int64
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
}

// Result is the outcome of a successful generation.
type Result struct {
	ImageRef string
	SeedUsed int64
	Duration time.Duration
}

// Generator is the external image-generation collaborator. Both calls are
// long-running and honor context cancellation cooperatively: a provider that
// cannot stop mid-step may complete the generation, in which case the caller
// discards the result.
type Generator interface {
	Generate(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error)
	Refine(ctx context.Context, req RefineRequest, onProgress ProgressFunc) (*Result, error)
}

// ModelError is a failure surfaced by the generation model. It is passed
// through to callers verbatim and never retried.
type ModelError struct {
	Code    string
	Message string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model error %s: %s", e.Code, e.Message)
}

// Well-known ModelError codes.
const (
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeOutOfMemory      = "OUT_OF_MEMORY"
	CodeTimeout          = "TIMEOUT"
)
