package textreplace

import (
	"context"
	"fmt"
	"strings"

	"intellibotic/internal/domain/simulator"
)

type function struct{}

func (f *function) Name() string {
	return "text.replace.v1"
}

// Execute 输入 text/old/new，old 为空时原样返回
func (f *function) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	text, err := stringInput(input, "text", true)
	if err != nil {
		return nil, err
	}
	old, err := stringInput(input, "old", true)
	if err != nil {
		return nil, err
	}
	repl, err := stringInput(input, "new", false)
	if err != nil {
		return nil, err
	}
	if old == "" {
		return map[string]any{"result": text}, nil
	}

	return map[string]any{
		"result": strings.ReplaceAll(text, old, repl),
	}, nil
}

func stringInput(input map[string]any, key string, required bool) (string, error) {
	raw, ok := input[key]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("missing required input: %s", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("input %s must be string, got %T", key, raw)
	}
	return s, nil
}

func init() {
	simulator.MustRegisterFunction(&function{})
}
