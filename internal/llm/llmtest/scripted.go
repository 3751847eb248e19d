// Package llmtest provides a substitute model client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"defectintel/internal/llm"
)

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// ScriptedClient returns queued replies in order and records every request.
// When the queue runs dry it returns an error.
type ScriptedClient struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// NewScriptedClient queues text replies.
func NewScriptedClient(texts ...string) *ScriptedClient {
	c := &ScriptedClient{}
	for _, t := range texts {
		c.replies = append(c.replies, Reply{Text: t})
	}
	return c
}

// Push queues additional replies.
func (c *ScriptedClient) Push(r ...Reply) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, r...)
	return c
}

// Generate implements llm.Client.
func (c *ScriptedClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return "", fmt.Errorf("scripted client: no reply queued for call %d", len(c.requests))
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.Text, r.Err
}

// Requests returns a copy of the recorded requests.
func (c *ScriptedClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// Calls returns the number of Generate calls so far.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
