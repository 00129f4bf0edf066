package echo

import (
	"context"
	"maps"

	"intellibotic/internal/domain/simulator"
)

type function struct{}

func (f *function) Name() string {
	return "echo.v1"
}

func (f *function) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{
		"result": maps.Clone(input),
	}, nil
}

func init() {
	simulator.MustRegisterFunction(&function{})
}
