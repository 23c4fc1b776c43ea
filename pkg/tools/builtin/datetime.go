// Package builtin ships the tools available out of the box.
package builtin

import (
	"context"
	"time"

	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/tools"
)

// DateTime reports the current date and time; models have no clock.
type DateTime struct {
	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

func (d *DateTime) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "datetime",
		Description: "Get the current date and time, optionally in a named IANA timezone.",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"timezone": {Type: "string", Description: "IANA timezone name, e.g. \"Europe/Berlin\". Defaults to local time."},
			},
		}),
	}
}

func (d *DateTime) Execute(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	t := now()
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", err
		}
		t = t.In(loc)
	}
	return t.Format("Monday, 2 January 2006 15:04:05 MST"), nil
}
