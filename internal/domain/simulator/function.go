package simulator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// LocalFunction code 节点可调用的本地函数。
// code 节点只能引用已注册的函数名，不执行任意代码。
type LocalFunction interface {
	Name() string
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

type functionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]LocalFunction
}

func newFunctionRegistry() *functionRegistry {
	return &functionRegistry{funcs: make(map[string]LocalFunction)}
}

func (r *functionRegistry) Register(fn LocalFunction) error {
	if fn == nil {
		return fmt.Errorf("function is nil")
	}
	name := fn.Name()
	if name == "" {
		return fmt.Errorf("function name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function already registered: %s", name)
	}
	r.funcs[name] = fn
	return nil
}

func (r *functionRegistry) Get(name string) (LocalFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *functionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var globalFunctions = newFunctionRegistry()

func RegisterFunction(fn LocalFunction) error {
	return globalFunctions.Register(fn)
}

func MustRegisterFunction(fn LocalFunction) {
	if err := RegisterFunction(fn); err != nil {
		panic(err)
	}
}

func GetFunction(name string) (LocalFunction, bool) {
	return globalFunctions.Get(name)
}

// FunctionNames 已注册函数名（排序）
func FunctionNames() []string {
	return globalFunctions.Names()
}

// CodeErrorCode code 节点错误码
type CodeErrorCode string

const (
	CodeInvalidConfig    CodeErrorCode = "CODE_NODE_INVALID_CONFIG"
	CodeFunctionNotFound CodeErrorCode = "CODE_NODE_FUNCTION_NOT_FOUND"
	CodeExecTimeout      CodeErrorCode = "CODE_NODE_EXEC_TIMEOUT"
	CodeExecFailed       CodeErrorCode = "CODE_NODE_EXEC_FAILED"
)

// CodeError code 节点执行错误
type CodeError struct {
	Code    CodeErrorCode
	Message string
	Cause   error
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CodeError) Unwrap() error {
	if e.Code == CodeFunctionNotFound {
		return ErrFunctionNotFound
	}
	return e.Cause
}

// callFunction 在超时内调用注册函数
func callFunction(ctx context.Context, name string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	if name == "" {
		return nil, &CodeError{Code: CodeInvalidConfig, Message: "code node has no function"}
	}
	fn, ok := GetFunction(name)
	if !ok {
		return nil, &CodeError{Code: CodeFunctionNotFound, Message: "function not registered: " + name}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn.Execute(execCtx, input)
		done <- result{out: out, err: err}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, &CodeError{Code: CodeExecTimeout, Message: fmt.Sprintf("function %s exceeded %s", name, timeout), Cause: execCtx.Err()}
		}
		return nil, execCtx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, &CodeError{Code: CodeExecFailed, Message: "function " + name + " failed", Cause: res.err}
		}
		return res.out, nil
	}
}
