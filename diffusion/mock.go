package diffusion

import (
	"context"
	"fmt"
	"time"
)

// Mock is a scripted Generator for tests and local runs without a model.
// It walks the requested step count, invoking the progress callback once per
// step, and fabricates an artifact reference from the seed.
type Mock struct {
	// StepDelay is the simulated duration of one model step.
	StepDelay time.Duration
	// Err, when set, is returned instead of a result.
	Err error
}

// NewMock creates a Mock with no per-step delay.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	return m.run(ctx, req.Steps, req.Seed, onProgress, fmt.Sprintf("mock://gen_%d.png", req.Seed))
}

func (m *Mock) Refine(ctx context.Context, req RefineRequest, onProgress ProgressFunc) (*Result, error) {
	return m.run(ctx, req.Steps, req.Seed, onProgress, fmt.Sprintf("mock://gen_%d_refined.png", req.Seed))
}

func (m *Mock) run(ctx context.Context, steps int, seed int64, onProgress ProgressFunc, ref string) (*Result, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	start := time.Now()
	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.StepDelay > 0 {
			select {
			case <-time.After(m.StepDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if onProgress != nil {
			onProgress(step, steps)
		}
	}

	return &Result{
		ImageRef: ref,
		SeedUsed: seed,
		Duration: time.Since(start),
	}, nil
}
