package tools

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"toolsandbox/internal/toolerr"
)

const maxJSONBytes = 1 << 20

// JSONTool validates JSON text and optionally extracts a value by path.
type JSONTool struct{}

func NewJSONTool() *JSONTool { return &JSONTool{} }

func (j *JSONTool) Name() string { return "json_parse" }

func (j *JSONTool) Description() string {
	return "Validate and pretty-print JSON. An optional query selects a value with a dotted path such as \"items.0.name\" or \"items.#.id\"."
}

func (j *JSONTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"text":  map[string]any{"type": "string"},
		"query": map[string]any{"type": "string"},
	}, "text")
}

type jsonInput struct {
	Text  string `mapstructure:"text"`
	Query string `mapstructure:"query"`
}

func (j *JSONTool) Execute(_ context.Context, args map[string]any) (Output, error) {
	var in jsonInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return Output{}, toolerr.Validation("text is required")
	}
	if len(in.Text) > maxJSONBytes {
		return Output{}, toolerr.ResourceLimit("text is larger than %d bytes", maxJSONBytes)
	}
	if !gjson.Valid(in.Text) {
		return Output{}, toolerr.Validation("text is not valid JSON")
	}
	if in.Query == "" {
		return Output{Text: string(pretty.Pretty([]byte(in.Text)))}, nil
	}
	result := gjson.Get(in.Text, in.Query)
	if !result.Exists() {
		return Output{}, toolerr.Execution("no value at %q", in.Query)
	}
	if result.IsObject() || result.IsArray() {
		return Output{Text: string(pretty.Pretty([]byte(result.Raw)))}, nil
	}
	return Output{Text: result.String() + "\n"}, nil
}
