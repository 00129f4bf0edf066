package simulator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type upperFunction struct{}

func (f *upperFunction) Name() string { return "test.sim.upper.v1" }
func (f *upperFunction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	in, _ := input["text"].(string)
	return map[string]any{"shout": strings.ToUpper(in)}, nil
}

type slowFunction struct{}

func (f *slowFunction) Name() string { return "test.sim.slow.v1" }
func (f *slowFunction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(200 * time.Millisecond):
		return map[string]any{"result": "late"}, nil
	}
}

type failingFunction struct{}

func (f *failingFunction) Name() string { return "test.sim.fail.v1" }
func (f *failingFunction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return nil, errors.New("boom")
}

type panicFunction struct{}

func (f *panicFunction) Name() string { return "test.sim.panic.v1" }
func (f *panicFunction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	panic("unexpected")
}

func init() {
	MustRegisterFunction(&upperFunction{})
	MustRegisterFunction(&slowFunction{})
	MustRegisterFunction(&failingFunction{})
	MustRegisterFunction(&panicFunction{})
}

func TestRegisterFunctionRejectsDuplicates(t *testing.T) {
	if err := RegisterFunction(&upperFunction{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := RegisterFunction(nil); err == nil {
		t.Fatal("expected nil function error")
	}
}

func TestFunctionNamesSorted(t *testing.T) {
	names := FunctionNames()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestCallFunctionSuccess(t *testing.T) {
	out, err := callFunction(context.Background(), "test.sim.upper.v1", map[string]any{"text": "hi"}, time.Second)
	if err != nil {
		t.Fatalf("callFunction failed: %v", err)
	}
	if out["shout"] != "HI" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestCallFunctionErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		code CodeErrorCode
	}{
		{"missing name", "", CodeInvalidConfig},
		{"not registered", "test.sim.missing.v1", CodeFunctionNotFound},
		{"timeout", "test.sim.slow.v1", CodeExecTimeout},
		{"failure", "test.sim.fail.v1", CodeExecFailed},
		{"panic", "test.sim.panic.v1", CodeExecFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callFunction(context.Background(), tt.fn, nil, 20*time.Millisecond)
			var ce *CodeError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CodeError, got %v", err)
			}
			if ce.Code != tt.code {
				t.Fatalf("code = %s, want %s", ce.Code, tt.code)
			}
			if !strings.Contains(err.Error(), string(tt.code)) {
				t.Fatalf("error text should carry code: %v", err)
			}
		})
	}
}

func TestFunctionNotFoundUnwrapsToSentinel(t *testing.T) {
	_, err := callFunction(context.Background(), "test.sim.missing.v1", nil, time.Second)
	if !errors.Is(err, ErrFunctionNotFound) {
		t.Fatalf("expected ErrFunctionNotFound, got %v", err)
	}
}
