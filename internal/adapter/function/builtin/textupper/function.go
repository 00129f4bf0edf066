package textupper

import (
	"context"
	"fmt"
	"strings"

	"intellibotic/internal/domain/simulator"
)

type function struct{}

func (f *function) Name() string {
	return "text.upper.v1"
}

func (f *function) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	raw, ok := input["text"]
	if !ok {
		return nil, fmt.Errorf("missing required input: text")
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("input text must be string, got %T", raw)
	}

	return map[string]any{
		"result": strings.ToUpper(text),
	}, nil
}

func init() {
	simulator.MustRegisterFunction(&function{})
}
