package llm

import (
	"context"
	"time"

	"defectintel/internal/logging"

	"github.com/google/uuid"
)

// Trace captures one model interaction.
type Trace struct {
	ID         string    `json:"id"`
	Stage      string    `json:"stage"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	HasImage   bool      `json:"has_image"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TraceStore persists traces.
type TraceStore interface {
	StoreTrace(ctx context.Context, t *Trace) error
}

type stageKey struct{}

// WithStage tags ctx with the pipeline stage issuing model calls.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage tag of ctx, or "unknown".
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// TracingClient wraps a Client and records every interaction.
// Store failures are logged and never fail the call.
type TracingClient struct {
	underlying Client
	store      TraceStore
}

// NewTracingClient creates a tracing wrapper. store may be nil, in which
// case traces are only logged.
func NewTracingClient(underlying Client, store TraceStore) *TracingClient {
	return &TracingClient{underlying: underlying, store: store}
}

// Generate delegates to the underlying client and records the exchange.
func (tc *TracingClient) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	resp, err := tc.underlying.Generate(ctx, req)

	trace := &Trace{
		ID:         uuid.NewString(),
		Stage:      StageFrom(ctx),
		Prompt:     req.Prompt,
		Response:   resp,
		HasImage:   req.Image != nil,
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
		Timestamp:  start.UTC(),
	}
	if err != nil {
		trace.Error = err.Error()
	}

	log := logging.Get(logging.CategoryAPI)
	log.Info("model call stage=%s prompt_chars=%d response_chars=%d duration_ms=%d ok=%v",
		trace.Stage, len(req.Prompt), len(resp), trace.DurationMs, trace.Success)

	if tc.store != nil {
		if serr := tc.store.StoreTrace(ctx, trace); serr != nil {
			log.Warn("failed to store trace %s: %v", trace.ID, serr)
		}
	}
	return resp, err
}
