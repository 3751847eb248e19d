// Package llm wraps the generative model behind a single-call interface.
// A Client is constructed explicitly by the process bootstrapper and injected
// into the generators; there is no package-level client.
package llm

import (
	"context"

	"google.golang.org/genai"
)

// Client is a stateless remote text generator. Each call is independent:
// no streaming and no conversation state across calls.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is one generation call.
type Request struct {
	// Prompt is the full instruction text.
	Prompt string
	// Image is an optional inline image sent alongside the prompt.
	Image *Image
	// Schema, when set, asks the model for JSON conforming to it.
	Schema *genai.Schema
}

// Image is raw image bytes with their MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
