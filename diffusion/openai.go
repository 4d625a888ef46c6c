package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dimpressionist/engine/storage"
)

// OpenAISettings configures the OpenAI-backed provider.
type OpenAISettings struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// OpenAIGenerator implements Generator using the official openai-go SDK
// (images API). The API exposes no step hooks, so progress is coarse: one
// notification at dispatch and one on completion. Strength and seed have no
// server-side counterpart; the seed is echoed back for record keeping.
type OpenAIGenerator struct {
	model     string
	opts      []option.RequestOption
	artifacts storage.ArtifactStore
}

// NewOpenAIGenerator builds a provider from settings. Artifacts returned by
// the API are decoded and handed to the artifact store; the store's
// reference becomes the generation's imageRef.
func NewOpenAIGenerator(cfg *OpenAISettings, artifacts storage.ArtifactStore) (*OpenAIGenerator, error) {
	if cfg == nil {
		return nil, errors.New("openai config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide api_key")
	}
	if artifacts == nil {
		return nil, errors.New("artifact store required")
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.ImageModelGPTImage1)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{model: model, opts: opts, artifacts: artifacts}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	client := openai.NewClient(g.opts...)
	start := time.Now()
	notify(onProgress, 0, req.Steps)

	resp, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(g.model),
		Size:   openai.ImageGenerateParamsSize(fmt.Sprintf("%dx%d", req.Width, req.Height)),
	})
	if err != nil {
		return nil, asModelError(ctx, err)
	}

	ref, err := g.saveImage(ctx, resp, fmt.Sprintf("gen_%d.png", req.Seed))
	if err != nil {
		return nil, err
	}

	notify(onProgress, req.Steps, req.Steps)
	return &Result{ImageRef: ref, SeedUsed: req.Seed, Duration: time.Since(start)}, nil
}

func (g *OpenAIGenerator) Refine(ctx context.Context, req RefineRequest, onProgress ProgressFunc) (*Result, error) {
	source, err := g.artifacts.Open(ctx, req.ImageRef)
	if err != nil {
		return nil, &ModelError{Code: CodeGenerationFailed, Message: err.Error()}
	}

	client := openai.NewClient(g.opts...)
	start := time.Now()
	notify(onProgress, 0, req.Steps)

	resp, err := client.Images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(source), "image.png", "image/png"),
		},
		Prompt: req.Prompt,
		Model:  openai.ImageModel(g.model),
	})
	if err != nil {
		return nil, asModelError(ctx, err)
	}

	ref, err := g.saveImage(ctx, resp, fmt.Sprintf("gen_%d_refined.png", req.Seed))
	if err != nil {
		return nil, err
	}

	notify(onProgress, req.Steps, req.Steps)
	return &Result{ImageRef: ref, SeedUsed: req.Seed, Duration: time.Since(start)}, nil
}

func (g *OpenAIGenerator) saveImage(ctx context.Context, resp *openai.ImagesResponse, name string) (string, error) {
	if resp == nil || len(resp.Data) == 0 {
		return "", &ModelError{Code: CodeGenerationFailed, Message: "openai: empty image data"}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", &ModelError{Code: CodeGenerationFailed, Message: fmt.Sprintf("decode image: %v", err)}
	}

	ref, err := g.artifacts.Save(ctx, name, data)
	if err != nil {
		return "", &ModelError{Code: CodeGenerationFailed, Message: err.Error()}
	}
	return ref, nil
}

func notify(onProgress ProgressFunc, step, total int) {
	if onProgress != nil {
		onProgress(step, total)
	}
}

func asModelError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ModelError{Code: CodeTimeout, Message: err.Error()}
	}
	return &ModelError{Code: CodeGenerationFailed, Message: err.Error()}
}
