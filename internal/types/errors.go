package types

import (
	"errors"
	"fmt"
)

// ErrNoFindings is returned when the record source has no findings for a property.
var ErrNoFindings = errors.New("no defects found for this property")

// ErrInvalidRequest marks a request missing required fields or naming an
// unknown role.
var ErrInvalidRequest = errors.New("invalid request")

// ConfigurationError reports missing or invalid configuration, such as an
// absent model credential. It is raised before any network call.
type ConfigurationError struct {
	Setting string
	Msg     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Msg)
}

// TransportError wraps a network or auth failure talking to the record
// source or the generative model.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports a model response that failed its schema.
type ValidationError struct {
	Stage  string
	Reason string
	Raw    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s produced an invalid response: %s", e.Stage, e.Reason)
}

// RenderError wraps any failure constructing a document.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render failed: %v", e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }
