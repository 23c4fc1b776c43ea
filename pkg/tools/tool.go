// Package tools defines the Tool interface, the registry the engine
// dispatches against, and JSON Schema validation of call arguments.
package tools

import (
	"context"
	"encoding/json"

	"github.com/parley-dev/parley/pkg/ai"
)

// Tool is one capability a model may invoke. Implementations must be safe
// for concurrent Execute calls; the registry hands one instance to every
// session.
type Tool interface {
	// Definition returns the schema handed to the model.
	Definition() ai.ToolDefinition
	// Execute runs the tool with validated arguments and returns the text
	// fed back into the conversation. ctx carries the turn's cancel signal.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ---------------------------------------------------------------------------
// SimpleSchema is a helper for building JSON Schema objects inline.
// ---------------------------------------------------------------------------

type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// MustSchema returns a JSON Schema for the given SimpleSchema.
func MustSchema(s SimpleSchema) json.RawMessage {
	s2 := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		s2["required"] = s.Required
	}
	b, err := json.Marshal(s2)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
