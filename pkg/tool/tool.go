package tool

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

type Provider interface {
	Tools(ctx context.Context) ([]Tool, error)
}

// Policy decides what an upstream failure of a tool turns into.
type Policy int

const (
	// PolicyPropagate reports the failure to the model as an error result.
	PolicyPropagate Policy = iota

	// PolicyFallback substitutes the tool's fallback value for the failure.
	PolicyFallback
)

func (p Policy) String() string {
	switch p {
	case PolicyFallback:
		return "fallback"
	default:
		return "propagate"
	}
}

type Tool struct {
	Name        string
	Description string

	Schema *Schema

	// IgnoreArgs skips argument decoding; the handler receives an empty map
	// whatever the model sent.
	IgnoreArgs bool

	Policy   Policy
	Fallback string

	Execute Handler
}

type Schema = jsonschema.Schema

type Handler = func(ctx context.Context, args map[string]any) (string, error)

// Parameters returns the tool schema as a plain JSON object, the shape the
// model backends expect for function definitions.
func (t Tool) Parameters() map[string]any {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}

	if t.Schema == nil {
		return params
	}

	data, err := json.Marshal(t.Schema)

	if err != nil {
		return params
	}

	var result map[string]any

	if err := json.Unmarshal(data, &result); err != nil {
		return params
	}

	if _, ok := result["properties"]; !ok {
		result["properties"] = map[string]any{}
	}

	return result
}
