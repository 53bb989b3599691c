// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jeranaias/reviewgen/internal/util"
)

const structuredSnippetRunes = 200

const jsonInstruction = "Respond with a single valid JSON object only. Do not include any prose, explanation, or markdown code fences."

// ErrStructuredOutput matches any *StructuredOutputError via errors.Is.
var ErrStructuredOutput = errors.New("llm: unusable structured output")

// StructuredOutputError reports a reply that could not be turned into the
// requested JSON value.
type StructuredOutputError struct {
	Snippet string // truncated raw reply
	Cause   error
}

func (e *StructuredOutputError) Error() string {
	msg := "structured output unusable"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg + " (reply: " + e.Snippet + ")"
}

func (e *StructuredOutputError) Unwrap() error {
	return e.Cause
}

func (e *StructuredOutputError) Is(target error) bool {
	return target == ErrStructuredOutput
}

// ExtractJSON parses raw as JSON. If that fails it retries on the span from
// the first '{' to the last '}', which recovers replies wrapped in prose or
// code fences.
func ExtractJSON(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)

	var v any
	err := json.Unmarshal([]byte(trimmed), &v)
	if err == nil {
		return v, nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if inner := json.Unmarshal([]byte(trimmed[start:end+1]), &v); inner == nil {
			return v, nil
		}
	}

	return nil, &StructuredOutputError{
		Snippet: util.Snippet(raw, structuredSnippetRunes),
		Cause:   err,
	}
}

// =============================================================================
// SCHEMA
// =============================================================================

// Schema is a compiled JSON Schema plus its source document.
type Schema struct {
	raw      []byte
	compiled *jsv.Schema
}

// SchemaFor reflects a JSON Schema from the Go type of v.
func SchemaFor(v any) (*Schema, error) {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	doc, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return CompileSchema(doc)
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(doc []byte) (*Schema, error) {
	compiler := jsv.NewCompiler()
	compiler.Draft = jsv.Draft2020
	if err := compiler.AddResource("structured.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("structured.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{raw: doc, compiled: compiled}, nil
}

// JSON returns the schema document.
func (s *Schema) JSON() []byte {
	return s.raw
}

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(v any) error {
	return s.compiled.Validate(v)
}

// =============================================================================
// QUERIES
// =============================================================================

// StructuredOption adjusts a structured query.
type StructuredOption func(*structuredOptions)

type structuredOptions struct {
	schema    *Schema
	schemaErr error
	query     []QueryOption
}

// WithSchema validates the parsed reply against s and includes it in the prompt.
func WithSchema(s *Schema) StructuredOption {
	return func(o *structuredOptions) { o.schema = s }
}

// WithSchemaFor reflects a schema from the type of v.
func WithSchemaFor(v any) StructuredOption {
	return func(o *structuredOptions) {
		o.schema, o.schemaErr = SchemaFor(v)
	}
}

// WithQuery passes options through to the underlying Query.
func WithQuery(opts ...QueryOption) StructuredOption {
	return func(o *structuredOptions) { o.query = append(o.query, opts...) }
}

// StructuredPrompt wraps prompt with the JSON-only instruction and, when
// given, the schema the reply must satisfy.
func StructuredPrompt(prompt string, schema *Schema) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString(jsonInstruction)
	if schema != nil {
		b.WriteString("\nThe object must conform to this JSON Schema:\n")
		b.Write(schema.JSON())
	}
	return b.String()
}

// QueryStructured asks for a JSON reply and returns the decoded value
// (map[string]any for objects). Unrecoverable or schema-violating replies
// yield a *StructuredOutputError.
func (c *Client) QueryStructured(ctx context.Context, prompt string, opts ...StructuredOption) (any, error) {
	var so structuredOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.schemaErr != nil {
		return nil, so.schemaErr
	}

	resp, err := c.Query(ctx, StructuredPrompt(prompt, so.schema), so.query...)
	if err != nil {
		return nil, err
	}

	v, err := ExtractJSON(resp.Text)
	if err != nil {
		c.log.WithField("model", resp.Model).Warn("Reply was not valid JSON")
		return nil, err
	}

	if so.schema != nil {
		if err := so.schema.Validate(v); err != nil {
			return nil, &StructuredOutputError{
				Snippet: util.Snippet(resp.Text, structuredSnippetRunes),
				Cause:   fmt.Errorf("schema violation: %w", err),
			}
		}
	}
	return v, nil
}

// QueryInto runs a structured query with a schema reflected from dst and
// decodes the result into dst, which must be a pointer.
func QueryInto(ctx context.Context, c *Client, prompt string, dst any, opts ...StructuredOption) error {
	opts = append([]StructuredOption{WithSchemaFor(dst)}, opts...)
	v, err := c.QueryStructured(ctx, prompt, opts...)
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encode structured value: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &StructuredOutputError{Snippet: util.Snippet(string(data), structuredSnippetRunes), Cause: err}
	}
	return nil
}
