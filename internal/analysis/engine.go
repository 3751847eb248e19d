// Package analysis implements the schema-constrained generators: the
// analysis generator (role reports and root-cause analysis) and the
// prediction generator. Each call walks the same state machine:
//
//	BUILDING_PROMPT -> AWAITING_MODEL -> PARSING -> VALID | INVALID
//
// Model-content problems end in INVALID and are returned as values. Only
// transport failures below the generator are returned as errors.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defectintel/internal/llm"
	"defectintel/internal/logging"
	"defectintel/internal/schema"
	"defectintel/internal/types"

	"google.golang.org/genai"
)

// State is a generator state.
type State int

const (
	StateBuildingPrompt State = iota
	StateAwaitingModel
	StateParsing
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateBuildingPrompt:
		return "BUILDING_PROMPT"
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateParsing:
		return "PARSING"
	case StateValid:
		return "VALID"
	case StateInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is the terminal result of one generation.
// Value is set only when State is StateValid; Raw and Reason describe the
// last rejected response when State is StateInvalid.
type Outcome[T any] struct {
	State       State
	Value       T
	Raw         string
	Reason      string
	Attempts    int
	GeneratedAt time.Time
}

// Valid reports whether the outcome carries a validated value.
func (o Outcome[T]) Valid() bool { return o.State == StateValid }

// Err converts an invalid outcome into a ValidationError; nil when valid.
func (o Outcome[T]) Err(stage string) error {
	if o.Valid() {
		return nil
	}
	return &types.ValidationError{Stage: stage, Reason: o.Reason, Raw: o.Raw}
}

// Options configures a generator.
type Options struct {
	// MaxAttempts is how many model responses may be tried before settling
	// on INVALID. Zero means 1.
	MaxAttempts int
	// Now overrides the clock used for GeneratedAt.
	Now func() time.Time
}

type engine struct {
	client      llm.Client
	maxAttempts int
	now         func() time.Time
}

func newEngine(client llm.Client, opts Options) engine {
	e := engine{client: client, maxAttempts: opts.MaxAttempts, now: opts.Now}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// call is one fully built generation request.
type call struct {
	stage  string
	prompt string
	schema *genai.Schema
	image  *llm.Image
}

// run drives a built call through AWAITING_MODEL and PARSING. fresh returns
// the zero value to decode into (a pointer for struct results).
func run[T any](ctx context.Context, e engine, c call, fresh func() T, log *logging.Logger) (Outcome[T], error) {
	ctx = llm.WithStage(ctx, c.stage)
	out := Outcome[T]{State: StateBuildingPrompt}
	prompt := c.prompt

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		out.Attempts = attempt
		out.State = StateAwaitingModel
		log.Debug("%s attempt %d: %s (prompt %d chars)", c.stage, attempt, out.State, len(prompt))

		raw, err := e.client.Generate(ctx, llm.Request{Prompt: prompt, Schema: c.schema, Image: c.image})
		if err != nil {
			var te *types.TransportError
			if !errors.As(err, &te) {
				err = &types.TransportError{Op: c.stage + " model call", Err: err}
			}
			return out, err
		}

		out.State = StateParsing
		value := fresh()
		if err := schema.Decode(c.schema, raw, value); err != nil {
			out.State = StateInvalid
			out.Raw = raw
			out.Reason = err.Error()
			log.Warn("%s attempt %d rejected: %s", c.stage, attempt, out.Reason)
			prompt = c.prompt + retryNote(out.Reason)
			continue
		}

		out.State = StateValid
		out.Value = value
		out.Raw = raw
		out.Reason = ""
		out.GeneratedAt = e.now().UTC()
		log.Info("%s valid after %d attempt(s)", c.stage, attempt)
		return out, nil
	}
	return out, nil
}

func retryNote(reason string) string {
	return fmt.Sprintf("\n\nYOUR PREVIOUS RESPONSE WAS REJECTED: %s\nRespond again with the complete JSON object only.\n", reason)
}
