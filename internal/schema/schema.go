// Package schema owns the declarative response schemas of the generators.
//
// Each schema is declared once as a *genai.Schema and consumed three ways:
// rendered into the prompt by ToPromptInstruction, checked against the model
// response by Validate, and handed to the model as its response schema. The
// three uses read the same object, so they cannot drift apart.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// =============================================================================
// PROMPT RENDERING
// =============================================================================

// ToPromptInstruction renders s as a field list the model can follow.
func ToPromptInstruction(s *genai.Schema) string {
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object using exactly this structure:\n")
	writeFields(&sb, s, 0)
	return sb.String()
}

func writeFields(sb *strings.Builder, s *genai.Schema, depth int) {
	indent := strings.Repeat("    ", depth)
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	for _, name := range propertyNames(s) {
		p := s.Properties[name]
		fmt.Fprintf(sb, "%s- %q (%s", indent, name, kindLabel(p))
		if required[name] {
			sb.WriteString(", required")
		} else {
			sb.WriteString(", optional")
		}
		if e := enumOf(p); len(e) > 0 {
			fmt.Fprintf(sb, ", one of: %s", strings.Join(e, ", "))
		}
		if p.Minimum != nil && p.Maximum != nil {
			fmt.Fprintf(sb, ", between %g and %g", *p.Minimum, *p.Maximum)
		}
		sb.WriteString(")")
		if p.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(p.Description)
		}
		sb.WriteString("\n")
		if nested := objectOf(p); nested != nil {
			writeFields(sb, nested, depth+1)
		}
	}
}

func kindLabel(s *genai.Schema) string {
	switch s.Type {
	case genai.TypeArray:
		if s.Items == nil {
			return "array"
		}
		switch s.Items.Type {
		case genai.TypeObject:
			return "array of objects"
		default:
			return "array of " + strings.ToLower(string(s.Items.Type)) + "s"
		}
	default:
		return strings.ToLower(string(s.Type))
	}
}

// objectOf returns the object schema whose fields should be listed under s.
func objectOf(s *genai.Schema) *genai.Schema {
	switch {
	case s.Type == genai.TypeObject && len(s.Properties) > 0:
		return s
	case s.Type == genai.TypeArray && s.Items != nil && s.Items.Type == genai.TypeObject:
		return s.Items
	}
	return nil
}

func enumOf(s *genai.Schema) []string {
	if len(s.Enum) > 0 {
		return s.Enum
	}
	if s.Type == genai.TypeArray && s.Items != nil {
		return s.Items.Enum
	}
	return nil
}

// propertyNames returns declared properties in PropertyOrdering order, then
// any remaining ones alphabetically.
func propertyNames(s *genai.Schema) []string {
	seen := make(map[string]bool, len(s.Properties))
	var names []string
	for _, n := range s.PropertyOrdering {
		if _, ok := s.Properties[n]; ok && !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	var rest []string
	for n := range s.Properties {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// =============================================================================
// VALIDATION
// =============================================================================

// FieldError locates a schema violation.
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Validate checks a decoded JSON value (as produced by encoding/json into
// interface{}) against s. Enum membership is case-insensitive.
func Validate(s *genai.Schema, v interface{}) error {
	return validate(s, v, "")
}

func validate(s *genai.Schema, v interface{}, path string) error {
	if v == nil {
		if s.Nullable != nil && *s.Nullable {
			return nil
		}
		return &FieldError{Path: path, Reason: "must not be null"}
	}

	switch s.Type {
	case genai.TypeObject:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return kindError(path, "object", v)
		}
		for _, name := range s.Required {
			if val, ok := obj[name]; !ok || val == nil {
				return &FieldError{Path: path, Reason: fmt.Sprintf("missing required field %q", name)}
			}
		}
		for _, name := range propertyNames(s) {
			val, ok := obj[name]
			if !ok {
				continue
			}
			if err := validate(s.Properties[name], val, join(path, name)); err != nil {
				return err
			}
		}
	case genai.TypeArray:
		arr, ok := v.([]interface{})
		if !ok {
			return kindError(path, "array", v)
		}
		if s.MinItems != nil && int64(len(arr)) < *s.MinItems {
			return &FieldError{Path: path, Reason: fmt.Sprintf("needs at least %d items", *s.MinItems)}
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := validate(s.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	case genai.TypeString:
		str, ok := v.(string)
		if !ok {
			return kindError(path, "string", v)
		}
		if len(s.Enum) > 0 && !inEnum(s.Enum, str) {
			return &FieldError{Path: path, Reason: fmt.Sprintf("%q is not one of %s", str, strings.Join(s.Enum, ", "))}
		}
	case genai.TypeNumber, genai.TypeInteger:
		n, ok := v.(float64)
		if !ok {
			return kindError(path, "number", v)
		}
		if s.Type == genai.TypeInteger && n != math.Trunc(n) {
			return &FieldError{Path: path, Reason: "must be an integer"}
		}
		if s.Minimum != nil && n < *s.Minimum {
			return &FieldError{Path: path, Reason: fmt.Sprintf("%g is below %g", n, *s.Minimum)}
		}
		if s.Maximum != nil && n > *s.Maximum {
			return &FieldError{Path: path, Reason: fmt.Sprintf("%g is above %g", n, *s.Maximum)}
		}
	case genai.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return kindError(path, "boolean", v)
		}
	}
	return nil
}

func kindError(path, want string, got interface{}) error {
	return &FieldError{Path: path, Reason: fmt.Sprintf("expected %s, got %T", want, got)}
}

func inEnum(enum []string, s string) bool {
	for _, e := range enum {
		if strings.EqualFold(e, strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// ReasonNonJSON is the diagnostic for responses without a JSON envelope.
const ReasonNonJSON = "non-JSON response: no {...} envelope found"

// ExtractJSON returns the text between the first '{' and the last '}'.
// Models often wrap JSON in prose or code fences; the braces mark the envelope.
func ExtractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// ParseError is a model response that did not satisfy its schema.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

// Decode extracts, parses, validates, and finally unmarshals raw into out.
// Every content problem is reported as a *ParseError; a missing required
// field is never defaulted.
func Decode(s *genai.Schema, raw string, out interface{}) error {
	body, ok := ExtractJSON(raw)
	if !ok {
		return &ParseError{Reason: ReasonNonJSON}
	}
	var generic interface{}
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return &ParseError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := Validate(s, generic); err != nil {
		return &ParseError{Reason: "schema violation: " + err.Error()}
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return &ParseError{Reason: fmt.Sprintf("decode: %v", err)}
	}
	return nil
}
