package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dimpressionist/engine/diffusion"
)

// Config holds initialization parameters and validation limits for the
// session engine. Values outside a limit are rejected, never clamped.
type Config struct {
	OutputDir    string `json:"output_dir,omitempty"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
	Addr         string `json:"addr,omitempty"`

	OpenAI diffusion.OpenAISettings `json:"openai,omitempty"`

	DefaultSteps         int     `json:"default_steps,omitempty"`
	DefaultGuidanceScale float64 `json:"default_guidance_scale,omitempty"`
	DefaultStrength      float64 `json:"default_strength,omitempty"`
	DefaultWidth         int     `json:"default_width,omitempty"`
	DefaultHeight        int     `json:"default_height,omitempty"`

	MinSteps         int     `json:"min_steps,omitempty"`
	MaxSteps         int     `json:"max_steps,omitempty"`
	MinGuidanceScale float64 `json:"min_guidance_scale,omitempty"`
	MaxGuidanceScale float64 `json:"max_guidance_scale,omitempty"`
	MinStrength      float64 `json:"min_strength,omitempty"`
	MaxStrength      float64 `json:"max_strength,omitempty"`
	MinSize          int     `json:"min_size,omitempty"`
	MaxSize          int     `json:"max_size,omitempty"`
	MaxPromptLength  int     `json:"max_prompt_length,omitempty"`

	// ProgressIntervalMs bounds the rate of forwarded step events.
	ProgressIntervalMs int `json:"progress_interval_ms,omitempty"`
	// ObserverBuffer is the per-observer event buffer size.
	ObserverBuffer int `json:"observer_buffer,omitempty"`
	// HeartbeatTimeoutMs is how long an observer may stay silent before
	// the hub is permitted to drop it.
	HeartbeatTimeoutMs int `json:"heartbeat_timeout_ms,omitempty"`
}

// DefaultConfig returns a Config with the stock generation defaults and
// limits.
func DefaultConfig() Config {
	return Config{
		OutputDir:            "./outputs",
		Addr:                 "127.0.0.1:8000",
		DefaultSteps:         28,
		DefaultGuidanceScale: 3.5,
		DefaultStrength:      0.6,
		DefaultWidth:         1024,
		DefaultHeight:        1024,
		MinSteps:             10,
		MaxSteps:             100,
		MinGuidanceScale:     1.0,
		MaxGuidanceScale:     5.0,
		MinStrength:          0.1,
		MaxStrength:          1.0,
		MinSize:              256,
		MaxSize:              2048,
		MaxPromptLength:      500,
		ProgressIntervalMs:   100,
		ObserverBuffer:       64,
		HeartbeatTimeoutMs:   60000,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.OutputDir != "" {
		c.OutputDir = source.OutputDir
	}
	if source.SnapshotPath != "" {
		c.SnapshotPath = source.SnapshotPath
	}
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.OpenAI.APIKey != "" {
		c.OpenAI.APIKey = source.OpenAI.APIKey
	}
	if source.OpenAI.BaseURL != "" {
		c.OpenAI.BaseURL = source.OpenAI.BaseURL
	}
	if source.OpenAI.Model != "" {
		c.OpenAI.Model = source.OpenAI.Model
	}
	if source.DefaultSteps > 0 {
		c.DefaultSteps = source.DefaultSteps
	}
	if source.DefaultGuidanceScale > 0 {
		c.DefaultGuidanceScale = source.DefaultGuidanceScale
	}
	if source.DefaultStrength > 0 {
		c.DefaultStrength = source.DefaultStrength
	}
	if source.DefaultWidth > 0 {
		c.DefaultWidth = source.DefaultWidth
	}
	if source.DefaultHeight > 0 {
		c.DefaultHeight = source.DefaultHeight
	}
	if source.MinSteps > 0 {
		c.MinSteps = source.MinSteps
	}
	if source.MaxSteps > 0 {
		c.MaxSteps = source.MaxSteps
	}
	if source.MinGuidanceScale > 0 {
		c.MinGuidanceScale = source.MinGuidanceScale
	}
	if source.MaxGuidanceScale > 0 {
		c.MaxGuidanceScale = source.MaxGuidanceScale
	}
	if source.MinStrength > 0 {
		c.MinStrength = source.MinStrength
	}
	if source.MaxStrength > 0 {
		c.MaxStrength = source.MaxStrength
	}
	if source.MinSize > 0 {
		c.MinSize = source.MinSize
	}
	if source.MaxSize > 0 {
		c.MaxSize = source.MaxSize
	}
	if source.MaxPromptLength > 0 {
		c.MaxPromptLength = source.MaxPromptLength
	}
	if source.ProgressIntervalMs > 0 {
		c.ProgressIntervalMs = source.ProgressIntervalMs
	}
	if source.ObserverBuffer > 0 {
		c.ObserverBuffer = source.ObserverBuffer
	}
	if source.HeartbeatTimeoutMs > 0 {
		c.HeartbeatTimeoutMs = source.HeartbeatTimeoutMs
	}
}

// LoadConfig reads a JSON config file and merges it over the defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

// ResolvedSnapshotPath returns the snapshot file location, defaulting to
// session.yaml under the output directory.
func (c *Config) ResolvedSnapshotPath() string {
	if c.SnapshotPath != "" {
		return c.SnapshotPath
	}
	return filepath.Join(c.OutputDir, "session.yaml")
}

func (c *Config) validatePrompt(field, text string) error {
	if text == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidParameters, field)
	}
	if len(text) > c.MaxPromptLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidParameters, field, c.MaxPromptLength)
	}
	return nil
}

func (c *Config) validateSteps(steps int) error {
	if steps < c.MinSteps || steps > c.MaxSteps {
		return fmt.Errorf("%w: steps %d outside [%d, %d]", ErrInvalidParameters, steps, c.MinSteps, c.MaxSteps)
	}
	return nil
}

func (c *Config) validateGuidance(scale float64) error {
	if scale < c.MinGuidanceScale || scale > c.MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %g outside [%g, %g]",
			ErrInvalidParameters, scale, c.MinGuidanceScale, c.MaxGuidanceScale)
	}
	return nil
}

func (c *Config) validateStrength(strength float64) error {
	if strength < c.MinStrength || strength > c.MaxStrength {
		return fmt.Errorf("%w: strength %g outside [%g, %g]",
			ErrInvalidParameters, strength, c.MinStrength, c.MaxStrength)
	}
	return nil
}

func (c *Config) validateSize(width, height int) error {
	if width < c.MinSize || width > c.MaxSize {
		return fmt.Errorf("%w: width %d outside [%d, %d]", ErrInvalidParameters, width, c.MinSize, c.MaxSize)
	}
	if height < c.MinSize || height > c.MaxSize {
		return fmt.Errorf("%w: height %d outside [%d, %d]", ErrInvalidParameters, height, c.MinSize, c.MaxSize)
	}
	return nil
}
