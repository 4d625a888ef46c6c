// Package web exposes the session engine over HTTP: a JSON API for
// generation and session queries, and a WebSocket endpoint streaming
// progress events to observers.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dimpressionist/engine/diffusion"
	"github.com/dimpressionist/engine/engine"
	"github.com/dimpressionist/engine/history"
)

// Server binds the engine to HTTP handlers.
type Server struct {
	engine *engine.Engine
	cfg    *engine.Config
	logger *slog.Logger
}

// New creates a Server.
func New(eng *engine.Engine, cfg *engine.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, cfg: cfg, logger: logger}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/generate/new", s.handleGenerateNew)
	mux.HandleFunc("POST /api/v1/generate/refine", s.handleRefine)
	mux.HandleFunc("POST /api/v1/generate/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/session/current", s.handleSessionCurrent)
	mux.HandleFunc("GET /api/v1/session/history", s.handleSessionHistory)
	mux.HandleFunc("POST /api/v1/session/clear", s.handleSessionClear)
	mux.HandleFunc("GET /api/v1/config", s.handleConfig)
	mux.HandleFunc("GET /api/v1/system/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/ws", s.handleWS)
	return s.logMiddleware(mux)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// --- Request/response shapes ---

type generateNewRequest struct {
	Prompt        string  `json:"prompt"`
	Steps         int     `json:"steps,omitempty"`
	GuidanceScale float64 `json:"guidance_scale,omitempty"`
	Seed          *int64  `json:"seed,omitempty"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
}

type refineRequest struct {
	Modification  string  `json:"modification"`
	Strength      float64 `json:"strength,omitempty"`
	Steps         int     `json:"steps,omitempty"`
	GuidanceScale float64 `json:"guidance_scale,omitempty"`
}

type generationResponse struct {
	Record history.Record `json:"record"`
}

type sessionResponse struct {
	SessionID       string          `json:"session_id"`
	Current         *history.Record `json:"current,omitempty"`
	GenerationCount int             `json:"generation_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type clearResponse struct {
	DeletedCount int `json:"deleted_count"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// --- Handlers ---

func (s *Server) handleGenerateNew(w http.ResponseWriter, r *http.Request) {
	var req generateNewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	rec, err := s.engine.GenerateNew(r.Context(), engine.GenerateRequest{
		Prompt:        req.Prompt,
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Seed:          req.Seed,
		Width:         req.Width,
		Height:        req.Height,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, generationResponse{Record: *rec})
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	rec, err := s.engine.Refine(r.Context(), engine.RefineRequest{
		Modification:  req.Modification,
		Strength:      req.Strength,
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, generationResponse{Record: *rec})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "cancellation requested"})
}

func (s *Server) handleSessionCurrent(w http.ResponseWriter, r *http.Request) {
	rec, count := s.engine.GetCurrent()
	store := s.engine.Store()
	s.writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:       store.SessionID(),
		Current:         rec,
		GenerationCount: count,
		CreatedAt:       store.CreatedAt(),
		UpdatedAt:       store.UpdatedAt(),
	})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	filter := history.FilterAll
	switch r.URL.Query().Get("type") {
	case "", "all":
	case "new":
		filter = history.FilterNew
	case "refinement":
		filter = history.FilterRefinement
	default:
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "type must be one of all, new, refinement")
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.ListHistory(limit, offset, filter))
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Clear()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clearResponse{DeletedCount: n})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"default_parameters": map[string]any{
			"steps":          s.cfg.DefaultSteps,
			"guidance_scale": s.cfg.DefaultGuidanceScale,
			"strength":       s.cfg.DefaultStrength,
			"width":          s.cfg.DefaultWidth,
			"height":         s.cfg.DefaultHeight,
		},
		"limits": map[string]any{
			"min_steps":          s.cfg.MinSteps,
			"max_steps":          s.cfg.MaxSteps,
			"min_guidance_scale": s.cfg.MinGuidanceScale,
			"max_guidance_scale": s.cfg.MaxGuidanceScale,
			"min_strength":       s.cfg.MinStrength,
			"max_strength":       s.cfg.MaxStrength,
			"min_size":           s.cfg.MinSize,
			"max_size":           s.cfg.MaxSize,
			"max_prompt_length":  s.cfg.MaxPromptLength,
		},
		"features": map[string]any{
			"refinement": true,
			"inpainting": false,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "operational",
		"state":            st.State,
		"in_flight":        st.InFlightID,
		"last_error":       st.LastError,
		"generation_count": st.GenerationCount,
		"observers":        s.engine.Hub().ObserverCount(),
	})
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var modelErr *diffusion.ModelError
	switch {
	case errors.Is(err, engine.ErrBusy):
		s.writeError(w, http.StatusTooManyRequests, "BUSY", err.Error())
	case errors.Is(err, engine.ErrInvalidParameters):
		s.writeError(w, http.StatusUnprocessableEntity, "INVALID_PARAMETERS", err.Error())
	case errors.Is(err, engine.ErrNoCurrentImage):
		s.writeError(w, http.StatusBadRequest, "NO_CURRENT_IMAGE", err.Error())
	case errors.Is(err, engine.ErrNotGenerating):
		s.writeError(w, http.StatusNotFound, "NOT_GENERATING", err.Error())
	case errors.Is(err, engine.ErrCancelled):
		s.writeError(w, http.StatusConflict, "CANCELLED", err.Error())
	case errors.Is(err, history.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &modelErr):
		s.writeError(w, http.StatusBadGateway, modelErr.Code, modelErr.Message)
	default:
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
