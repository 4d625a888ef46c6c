// Package progress fans generation progress out to any number of observers.
// Delivery is fire-and-forget per observer: a slow or unreachable observer
// never blocks the generation or other observers.
package progress

import (
	"time"

	"github.com/dimpressionist/engine/history"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeProgress reports a step boundary of the in-flight generation.
	TypeProgress Type = "progress"
	// TypeComplete is the single terminal event of a successful generation.
	TypeComplete Type = "complete"
	// TypeError is the single terminal event of a failed or cancelled
	// generation. Mutually exclusive with TypeComplete for the same id.
	TypeError Type = "error"
)

// Event is one progress-stream message. Every event is tagged with the
// owning session and generation so multiplexed observers can filter.
type Event struct {
	Type         Type   `json:"type"`
	SessionID    string `json:"session_id,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`

	Step           int     `json:"step,omitempty"`
	TotalSteps     int     `json:"total_steps,omitempty"`
	Percentage     float64 `json:"percentage,omitempty"`
	ETASeconds     float64 `json:"eta_seconds,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`

	ImageRef string          `json:"image_ref,omitempty"`
	Record   *history.Record `json:"record,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the event ends its generation's stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// NewProgress builds a step event. Percentage and ETA are derived from the
// step position and elapsed wall time; ETA is zero until the first step has
// completed.
func NewProgress(sessionID, generationID string, step, totalSteps int, elapsed time.Duration) Event {
	ev := Event{
		Type:           TypeProgress,
		SessionID:      sessionID,
		GenerationID:   generationID,
		Step:           step,
		TotalSteps:     totalSteps,
		ElapsedSeconds: elapsed.Seconds(),
	}
	if totalSteps > 0 {
		ev.Percentage = float64(step) / float64(totalSteps) * 100
	}
	if step > 0 {
		perStep := elapsed.Seconds() / float64(step)
		ev.ETASeconds = perStep * float64(totalSteps-step)
	}
	return ev
}

// NewComplete builds the terminal event of a successful generation.
func NewComplete(sessionID string, rec history.Record) Event {
	r := rec
	return Event{
		Type:         TypeComplete,
		SessionID:    sessionID,
		GenerationID: rec.ID,
		ImageRef:     rec.ImageRef,
		Record:       &r,
	}
}

// NewError builds the terminal event of a failed or cancelled generation.
func NewError(sessionID, generationID, code, message string) Event {
	return Event{
		Type:         TypeError,
		SessionID:    sessionID,
		GenerationID: generationID,
		Code:         code,
		Message:      message,
	}
}
