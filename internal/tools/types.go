package tools

import (
	"context"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"toolsandbox/internal/toolerr"
)

// Output is what a tool hands back to the Manager before redaction and
// truncation.
type Output struct {
	Text string
	// Failed marks an expected unsuccessful outcome that is not a sandbox
	// error, such as a command exiting nonzero.
	Failed    bool
	ExitCode  *int
	Truncated bool
}

// Result is the structured outcome of one invocation. The caller owns it;
// the Manager keeps no reference.
type Result struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Success    bool           `json:"success"`
	Output     string         `json:"output"`
	Error      *toolerr.Error `json:"error,omitempty"`
	ExitCode   *int           `json:"exit_code,omitempty"`
	Truncated  bool           `json:"truncated"`
	Elapsed    time.Duration  `json:"-"`
	DurationMs int64          `json:"duration_ms"`
}

// Tool describes a callable tool. Execute returns *toolerr.Error values for
// every failure it can classify.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (Output, error)
}

// decodeArgs decodes an argument map into out. Unknown keys and mistyped
// values are validation errors.
func decodeArgs(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "mapstructure",
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return toolerr.Internal("argument decoder unavailable")
	}
	if err := decoder.Decode(args); err != nil {
		return toolerr.Validation("invalid arguments: %s", strings.Join(strings.Fields(err.Error()), " "))
	}
	return nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func intPtr(v int) *int { return &v }
