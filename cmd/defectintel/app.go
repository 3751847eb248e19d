package main

import (
	"context"
	"errors"
	"fmt"

	"defectintel/internal/analysis"
	"defectintel/internal/config"
	"defectintel/internal/llm"
	"defectintel/internal/pipeline"
	"defectintel/internal/render"
	"defectintel/internal/store"
	"defectintel/internal/types"
	"defectintel/internal/vision"

	"go.uber.org/zap"
)

// newModelClient builds the generative model client. Tests replace it.
var newModelClient = func(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gcfg := llm.DefaultGeminiConfig(cfg.LLM.APIKey)
	gcfg.Model = cfg.LLM.Model
	gcfg.Temperature = cfg.LLM.Temperature
	gcfg.Timeout = cfg.GetLLMTimeout()
	gcfg.MaxConcurrent = cfg.LLM.MaxConcurrent
	return llm.NewGeminiClient(ctx, gcfg)
}

// modelMode says whether a command cannot run without a model client.
type modelMode int

const (
	modelRequired modelMode = iota
	// modelOptional tolerates a missing credential; any model call then
	// fails with the configuration error.
	modelOptional
)

// unavailableClient fails every call with err.
func unavailableClient(err error) llm.Client {
	return llm.ClientFunc(func(context.Context, llm.Request) (string, error) { return "", err })
}

// app holds the process-scoped components.
type app struct {
	store    *store.Store
	orch     *pipeline.Orchestrator
	renderer *render.Renderer
	archive  *render.Archive
}

// openStore opens the configured record source.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(store.Options{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		FindingsLimit: cfg.Store.FindingsLimit,
	})
}

// buildApp wires the store, model client, generators, renderer and
// orchestrator.
func buildApp(ctx context.Context, cfg *config.Config, mode modelMode) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	client, err := newModelClient(ctx, cfg)
	if err != nil {
		var ce *types.ConfigurationError
		if mode != modelOptional || !errors.As(err, &ce) {
			st.Close()
			return nil, err
		}
		logger.Warn("model client unavailable", zap.Error(err))
		client = unavailableClient(err)
	}
	if cfg.Store.TraceModel {
		client = llm.NewTracingClient(client, st)
	}

	renderer, err := render.NewRenderer(render.Options{
		FontPath: cfg.Render.UnicodeFont,
		BaseSize: cfg.Render.FontSize,
		Compress: cfg.Render.Compress,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	archive := render.NewArchive(cfg.Render.ReportsDir)

	opts := analysis.Options{MaxAttempts: cfg.LLM.MaxAttempts}
	analyzer := analysis.NewAnalysisGenerator(client, opts)
	orch := pipeline.New(pipeline.Config{
		Source:      st,
		Analyzer:    analyzer,
		Predictor:   analysis.NewPredictionGenerator(client, opts),
		Renderer:    renderer,
		Archive:     archive,
		Ingestor:    vision.NewIngestor(analyzer, st),
		Predictions: cfg.Pipeline.Predictions,
	})

	logger.Debug("application wired",
		zap.String("driver", cfg.Store.Driver),
		zap.String("db", st.Path()),
		zap.String("model", cfg.LLM.Model),
		zap.String("reports_dir", archive.Dir()),
		zap.Bool("predictions", cfg.Pipeline.Predictions))
	return &app{store: st, orch: orch, renderer: renderer, archive: archive}, nil
}

func (a *app) Close() error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
