package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"defectintel/internal/llm"
	"defectintel/internal/llm/llmtest"
	"defectintel/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTraces struct {
	mu     sync.Mutex
	traces []*llm.Trace
	err    error
}

func (m *memTraces) StoreTrace(_ context.Context, t *llm.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, t)
	return m.err
}

func TestTracingClientRecordsStageAndOutcome(t *testing.T) {
	inner := llmtest.NewScriptedClient(`{"ok":true}`)
	inner.Push(llmtest.Reply{Err: errors.New("boom")})
	store := &memTraces{}
	tc := llm.NewTracingClient(inner, store)

	ctx := llm.WithStage(context.Background(), "analysis")
	out, err := tc.Generate(ctx, llm.Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	_, err = tc.Generate(context.Background(), llm.Request{Prompt: "again", Image: &llm.Image{Data: []byte{1}}})
	require.Error(t, err)

	require.Len(t, store.traces, 2)
	assert.Equal(t, "analysis", store.traces[0].Stage)
	assert.True(t, store.traces[0].Success)
	assert.Equal(t, "unknown", store.traces[1].Stage)
	assert.False(t, store.traces[1].Success)
	assert.True(t, store.traces[1].HasImage)
	assert.Equal(t, "boom", store.traces[1].Error)
}

func TestTracingClientIgnoresStoreFailure(t *testing.T) {
	tc := llm.NewTracingClient(llmtest.NewScriptedClient("x"), &memTraces{err: errors.New("disk full")})
	out, err := tc.Generate(context.Background(), llm.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := llm.NewGeminiClient(context.Background(), llm.DefaultGeminiConfig(""))
	var ce *types.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "llm.api_key", ce.Setting)
}

func TestClientFunc(t *testing.T) {
	var c llm.Client = llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
		return "echo:" + req.Prompt, nil
	})
	out, err := c.Generate(context.Background(), llm.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}
