// Package engine implements the session runtime that composes the prompt
// rewriter, history store, progress hub, and the external generation model
// into the generate/refine cycle.
//
// The engine initializes from configuration via New. Functional options
// allow overrides of any subsystem.
//
//	e, err := engine.New(&cfg, engine.WithGenerator(gen))
//	rec, err := e.GenerateNew(ctx, engine.GenerateRequest{Prompt: "a cat"})
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dimpressionist/engine/diffusion"
	"github.com/dimpressionist/engine/history"
	"github.com/dimpressionist/engine/progress"
	"github.com/dimpressionist/engine/prompt"
)

// State is the engine's generation state. Exactly one generation may be in
// flight per session; everything else about the session is serialized
// through this state machine.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
)

// GenerateRequest carries the inputs for a new text-to-image generation.
// Zero-valued numeric fields take the configured defaults before validation.
type GenerateRequest struct {
	Prompt        string
	Steps         int
	GuidanceScale float64
	Seed          *int64
	Width         int
	Height        int
}

// RefineRequest carries the inputs for a refinement of the current record.
// The seed is always inherited from the current record; refinements are
// seed-stable by contract.
type RefineRequest struct {
	Modification  string
	Strength      float64
	Steps         int
	GuidanceScale float64
}

// Status is a point-in-time view of the engine for status queries.
type Status struct {
	State           State  `json:"state"`
	InFlightID      string `json:"in_flight_id,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	GenerationCount int    `json:"generation_count"`
}

// Option configures an Engine after config-driven initialization.
type Option func(*Engine)

// WithGenerator overrides the generation collaborator.
func WithGenerator(g diffusion.Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithStore overrides the config-created history store.
func WithStore(s *history.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithHub overrides the config-created progress hub.
func WithHub(h *progress.Hub) Option {
	return func(e *Engine) { e.hub = h }
}

// WithSnapshotFile enables snapshot persistence after each successful
// generation and on clear.
func WithSnapshotFile(f *history.SnapshotFile) Option {
	return func(e *Engine) { e.snapshot = f }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine orchestrates a single session. All history mutation happens on the
// engine's completion path; observers only read.
type Engine struct {
	mu         sync.Mutex
	state      State
	inflightID string
	cancelFn   context.CancelFunc
	lastErr    error

	cfg      *Config
	gen      diffusion.Generator
	store    *history.Store
	hub      *progress.Hub
	snapshot *history.SnapshotFile
	logger   *slog.Logger
}

// New creates an Engine from configuration. The default generator is the
// scripted mock; production callers pass WithGenerator.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	e := &Engine{
		state:  StateIdle,
		cfg:    cfg,
		gen:    diffusion.NewMock(),
		store:  history.NewStore(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hub == nil {
		e.hub = progress.NewHub(e.logger, cfg.ObserverBuffer)
	}
	return e, nil
}

// Hub returns the progress hub observers subscribe to.
func (e *Engine) Hub() *progress.Hub {
	return e.hub
}

// Store returns the session's history store.
func (e *Engine) Store() *history.Store {
	return e.store
}

// GenerateNew generates a new image from a text prompt, appends the record,
// and makes it current. Fails with ErrInvalidParameters before any state
// transition, with ErrBusy when a generation is already in flight, and with
// the collaborator's error (no record appended) when generation fails.
func (e *Engine) GenerateNew(ctx context.Context, req GenerateRequest) (*history.Record, error) {
	e.applyGenerateDefaults(&req)
	if err := e.validateGenerate(&req); err != nil {
		return nil, err
	}

	seed := rand.Int64N(1 << 32)
	if req.Seed != nil {
		seed = *req.Seed
	}

	genID := history.NewID(history.KindNew)
	genCtx, err := e.begin(ctx, genID)
	if err != nil {
		return nil, err
	}

	template := history.Record{
		ID:            genID,
		Kind:          history.KindNew,
		Prompt:        req.Prompt,
		Seed:          seed,
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Width:         req.Width,
		Height:        req.Height,
	}

	e.logger.Info("generation started",
		slog.String("generation_id", genID),
		slog.Int("prompt_length", len(req.Prompt)),
		slog.Int("steps", req.Steps),
	)

	dreq := diffusion.Request{
		Prompt:        req.Prompt,
		Seed:          seed,
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Width:         req.Width,
		Height:        req.Height,
	}
	return e.runGeneration(genCtx, template, func(onProgress diffusion.ProgressFunc) (*diffusion.Result, error) {
		return e.gen.Generate(genCtx, dreq, onProgress)
	})
}

// Refine rewrites the current prompt from the modification text and runs an
// image-to-image refinement rooted at the current record. The child record
// inherits the parent's seed and dimensions. Fails with ErrNoCurrentImage
// when the session is empty.
func (e *Engine) Refine(ctx context.Context, req RefineRequest) (*history.Record, error) {
	e.applyRefineDefaults(&req)
	if err := e.validateRefine(&req); err != nil {
		return nil, err
	}

	genID := history.NewID(history.KindRefinement)
	genCtx, err := e.begin(ctx, genID)
	if err != nil {
		return nil, err
	}

	// Resolved only while holding the generation slot, so a completing
	// generation cannot move the pointer between the read and the run.
	current, ok := e.store.Current()
	if !ok {
		e.abort()
		return nil, ErrNoCurrentImage
	}

	rewritten := prompt.Rewrite(current.Prompt, req.Modification)
	if rewritten.Warning != "" {
		e.logger.Warn("modification approximated",
			slog.String("rule", string(rewritten.Rule)),
			slog.String("warning", rewritten.Warning),
		)
	}

	template := history.Record{
		ID:            genID,
		Kind:          history.KindRefinement,
		Prompt:        rewritten.Prompt,
		Modification:  req.Modification,
		ParentID:      current.ID,
		Seed:          current.Seed,
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Strength:      req.Strength,
		Width:         current.Width,
		Height:        current.Height,
	}

	e.logger.Info("refinement started",
		slog.String("generation_id", genID),
		slog.String("parent_id", current.ID),
		slog.String("rule", string(rewritten.Rule)),
	)

	dreq := diffusion.RefineRequest{
		ImageRef:      current.ImageRef,
		Prompt:        rewritten.Prompt,
		Strength:      req.Strength,
		Seed:          current.Seed,
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Width:         current.Width,
		Height:        current.Height,
	}
	return e.runGeneration(genCtx, template, func(onProgress diffusion.ProgressFunc) (*diffusion.Result, error) {
		return e.gen.Refine(genCtx, dreq, onProgress)
	})
}

// Cancel requests cooperative cancellation of the in-flight generation.
// Returns ErrNotGenerating when the engine is idle. Cancellation is
// best-effort: a collaborator that cannot stop mid-step may still complete,
// and the engine discards the result.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateGenerating {
		return ErrNotGenerating
	}
	if e.cancelFn != nil {
		e.cancelFn()
	}
	return nil
}

// Status returns the engine state, the in-flight generation id if any, and
// the error retained from the last failed generation.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:           e.state,
		InFlightID:      e.inflightID,
		GenerationCount: e.store.Len(),
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// GetCurrent returns the record in view, or nil, plus the generation count.
func (e *Engine) GetCurrent() (*history.Record, int) {
	rec, ok := e.store.Current()
	if !ok {
		return nil, e.store.Len()
	}
	return &rec, e.store.Len()
}

// ListHistory pages through records newest-first.
func (e *Engine) ListHistory(limit, offset int, filter history.Filter) history.Page {
	return e.store.List(limit, offset, filter)
}

// Clear discards all records and the current pointer, returning the prior
// record count. Rejected with ErrBusy while a generation is in flight so a
// completing generation never races a concurrent clear. Stored image
// artifacts are untouched.
func (e *Engine) Clear() (int, error) {
	e.mu.Lock()
	if e.state == StateGenerating {
		e.mu.Unlock()
		return 0, ErrBusy
	}
	e.lastErr = nil
	e.mu.Unlock()

	n := e.store.Clear()
	e.saveSnapshot()
	e.logger.Info("session cleared", slog.Int("records_deleted", n))
	return n, nil
}

// Flush persists the current snapshot, for shutdown paths.
func (e *Engine) Flush() error {
	if e.snapshot == nil {
		return nil
	}
	return e.snapshot.Save(e.store)
}

// begin transitions IDLE -> GENERATING, recording the in-flight id and a
// cancel function. A request arriving while generating fails with ErrBusy
// and is not enqueued.
func (e *Engine) begin(ctx context.Context, genID string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateGenerating {
		return nil, ErrBusy
	}

	genCtx, cancel := context.WithCancel(ctx)
	e.state = StateGenerating
	e.inflightID = genID
	e.cancelFn = cancel
	e.hub.SetInFlight(genID)
	return genCtx, nil
}

// abort reverts a begin transition for a request rejected before any
// generation ran. The retained last error is untouched.
func (e *Engine) abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.cancelFn()
		e.cancelFn = nil
	}
	e.state = StateIdle
	e.inflightID = ""
	e.hub.SetInFlight("")
}

// finish transitions back to IDLE, retaining err for status queries.
func (e *Engine) finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.cancelFn()
		e.cancelFn = nil
	}
	e.state = StateIdle
	e.inflightID = ""
	e.lastErr = err
	e.hub.SetInFlight("")
}

// runGeneration awaits the collaborator call, forwarding progress callbacks
// to the hub at a bounded rate, and settles the generation with exactly one
// terminal event: complete on success, error on failure or cancellation.
func (e *Engine) runGeneration(
	genCtx context.Context,
	template history.Record,
	call func(diffusion.ProgressFunc) (*diffusion.Result, error),
) (*history.Record, error) {
	sessionID := e.store.SessionID()
	start := time.Now()
	throttle := progress.NewThrottle(time.Duration(e.cfg.ProgressIntervalMs) * time.Millisecond)

	onProgress := func(step, totalSteps int) {
		ev := progress.NewProgress(sessionID, template.ID, step, totalSteps, time.Since(start))
		if throttle.Allow(ev) {
			e.hub.Broadcast(ev)
		}
	}

	res, err := call(onProgress)

	if err == nil && genCtx.Err() != nil {
		// Collaborator could not stop mid-step and completed anyway.
		// The result is discarded: nothing appended, pointer untouched.
		err = genCtx.Err()
		res = nil
	}

	if err != nil {
		terminal := e.settleFailure(template.ID, sessionID, genCtx, err)
		e.finish(terminal)
		return nil, terminal
	}

	rec := template
	rec.ImageRef = res.ImageRef
	// A provider may pick its own seed for a fresh generation. A
	// refinement's seed is the parent's, regardless of what the provider
	// reports back.
	if rec.Kind == history.KindNew && res.SeedUsed != 0 {
		rec.Seed = res.SeedUsed
	}
	rec.CreatedAt = time.Now()
	rec.DurationMs = res.Duration.Milliseconds()

	e.store.Append(rec)
	if err := e.store.SetCurrent(rec.ID); err != nil {
		// Append and SetCurrent run on the single completion path; a
		// miss here means the store was swapped out from under us.
		e.finish(err)
		return nil, err
	}
	e.saveSnapshot()

	e.hub.Broadcast(progress.NewComplete(sessionID, rec))
	e.finish(nil)

	e.logger.Info("generation complete",
		slog.String("generation_id", rec.ID),
		slog.String("image_ref", rec.ImageRef),
		slog.Int64("duration_ms", rec.DurationMs),
	)
	return &rec, nil
}

// settleFailure classifies a failed generation, emits its single error
// event, and returns the error the caller should see.
func (e *Engine) settleFailure(genID, sessionID string, genCtx context.Context, err error) error {
	var modelErr *diffusion.ModelError
	switch {
	case genCtx.Err() != nil || errors.Is(err, context.Canceled):
		e.hub.Broadcast(progress.NewError(sessionID, genID, "CANCELLED", ErrCancelled.Error()))
		e.logger.Info("generation cancelled", slog.String("generation_id", genID))
		return ErrCancelled
	case errors.As(err, &modelErr):
		e.hub.Broadcast(progress.NewError(sessionID, genID, modelErr.Code, modelErr.Message))
		e.logger.Error("generation failed",
			slog.String("generation_id", genID),
			slog.String("code", modelErr.Code),
			slog.String("error", modelErr.Message),
		)
		return err
	default:
		e.hub.Broadcast(progress.NewError(sessionID, genID, diffusion.CodeGenerationFailed, err.Error()))
		e.logger.Error("generation failed",
			slog.String("generation_id", genID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("generation failed: %w", err)
	}
}

func (e *Engine) saveSnapshot() {
	if e.snapshot == nil {
		return
	}
	if err := e.snapshot.Save(e.store); err != nil {
		e.logger.Error("snapshot save failed",
			slog.String("path", e.snapshot.Path()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) applyGenerateDefaults(req *GenerateRequest) {
	if req.Steps == 0 {
		req.Steps = e.cfg.DefaultSteps
	}
	if req.GuidanceScale == 0 {
		req.GuidanceScale = e.cfg.DefaultGuidanceScale
	}
	if req.Width == 0 {
		req.Width = e.cfg.DefaultWidth
	}
	if req.Height == 0 {
		req.Height = e.cfg.DefaultHeight
	}
}

func (e *Engine) applyRefineDefaults(req *RefineRequest) {
	if req.Steps == 0 {
		req.Steps = e.cfg.DefaultSteps
	}
	if req.GuidanceScale == 0 {
		req.GuidanceScale = e.cfg.DefaultGuidanceScale
	}
	if req.Strength == 0 {
		req.Strength = e.cfg.DefaultStrength
	}
}

func (e *Engine) validateGenerate(req *GenerateRequest) error {
	if err := e.cfg.validatePrompt("prompt", req.Prompt); err != nil {
		return err
	}
	if err := e.cfg.validateSteps(req.Steps); err != nil {
		return err
	}
	if err := e.cfg.validateGuidance(req.GuidanceScale); err != nil {
		return err
	}
	return e.cfg.validateSize(req.Width, req.Height)
}

func (e *Engine) validateRefine(req *RefineRequest) error {
	if err := e.cfg.validatePrompt("modification", req.Modification); err != nil {
		return err
	}
	if err := e.cfg.validateSteps(req.Steps); err != nil {
		return err
	}
	if err := e.cfg.validateGuidance(req.GuidanceScale); err != nil {
		return err
	}
	return e.cfg.validateStrength(req.Strength)
}
