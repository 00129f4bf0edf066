package textlength

import (
	"context"
	"fmt"
	"unicode/utf8"

	"intellibotic/internal/domain/simulator"
)

type function struct{}

func (f *function) Name() string {
	return "text.length.v1"
}

// Execute 按字符（rune）计数
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
		"length": utf8.RuneCountInString(text),
	}, nil
}

func init() {
	simulator.MustRegisterFunction(&function{})
}
