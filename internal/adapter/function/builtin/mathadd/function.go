package mathadd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"intellibotic/internal/domain/simulator"
)

type function struct{}

func (f *function) Name() string {
	return "math.add.v1"
}

// Execute result = a + b；数字字符串（如用户输入）也接受
func (f *function) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	a, err := number(input, "a")
	if err != nil {
		return nil, err
	}
	b, err := number(input, "b")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"result": a + b,
	}, nil
}

func number(input map[string]any, key string) (float64, error) {
	raw, ok := input[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("missing required input: %s", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("input %s is not a number: %q", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("input %s must be number, got %T", key, raw)
	}
}

func init() {
	simulator.MustRegisterFunction(&function{})
}
