package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/dimpressionist/engine/diffusion"
	"github.com/dimpressionist/engine/engine"
	"github.com/dimpressionist/engine/history"
	"github.com/dimpressionist/engine/storage"
	"github.com/dimpressionist/engine/web"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config JSON file (optional)")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		outputDir  = flag.String("output", "", "Output directory for images and session data (overrides config)")
		provider   = flag.String("provider", "mock", "Generation provider: mock or openai")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := engine.DefaultConfig()
	if *configFile != "" {
		loaded, err := engine.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = key
	}

	store := history.NewStore()
	snapshot := history.NewSnapshotFile(cfg.ResolvedSnapshotPath())
	if err := snapshot.Load(store); err != nil {
		log.Fatalf("Failed to load session snapshot: %v", err)
	}

	gen, err := buildGenerator(*provider, &cfg)
	if err != nil {
		log.Fatalf("Failed to create generation provider: %v", err)
	}

	eng, err := engine.New(&cfg,
		engine.WithGenerator(gen),
		engine.WithStore(store),
		engine.WithSnapshotFile(snapshot),
		engine.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go reapIdleObservers(ctx, eng, &cfg)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: web.New(eng, &cfg, logger).Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening",
		slog.String("addr", cfg.Addr),
		slog.String("provider", *provider),
		slog.Int("records", store.Len()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}

	if err := eng.Flush(); err != nil {
		logger.Error("snapshot flush failed", slog.String("error", err.Error()))
	}
	logger.Info("shutdown complete")
}

func buildGenerator(provider string, cfg *engine.Config) (diffusion.Generator, error) {
	switch provider {
	case "mock":
		m := diffusion.NewMock()
		m.StepDelay = 50 * time.Millisecond
		return m, nil
	case "openai":
		return diffusion.NewOpenAIGenerator(&cfg.OpenAI, storage.NewFileStore(cfg.OutputDir))
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func reapIdleObservers(ctx context.Context, eng *engine.Engine, cfg *engine.Config) {
	timeout := time.Duration(cfg.HeartbeatTimeoutMs) * time.Millisecond
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.Hub().ReapIdle(timeout)
		}
	}
}
