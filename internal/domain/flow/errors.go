package flow

import (
	"errors"
	"fmt"
)

// 结构性错误，调用方修正请求即可恢复，不做重试
var (
	ErrDuplicateID        = errors.New("duplicate id")
	ErrNotFound           = errors.New("not found")
	ErrInvalidKind        = errors.New("invalid node kind")
	ErrCycleThroughStart  = errors.New("edge would create a path back into start")
	ErrForbiddenOperation = errors.New("forbidden operation")
	ErrCorruptGraph       = errors.New("corrupt flow graph")
)

// ErrorCode 错误码
type ErrorCode string

const (
	CodeDuplicateID        ErrorCode = "DUPLICATE_ID"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeInvalidKind        ErrorCode = "INVALID_KIND"
	CodeCycleThroughStart  ErrorCode = "CYCLE_THROUGH_START"
	CodeForbiddenOperation ErrorCode = "FORBIDDEN_OPERATION"
	CodeCorruptGraph       ErrorCode = "CORRUPT_GRAPH"
)

// Error 带错误码的流程图错误
type Error struct {
	Code ErrorCode
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("[%s] %s %q: %v", e.Code, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, op, id string, sentinel error) error {
	return &Error{Code: code, Op: op, ID: id, Err: sentinel}
}

// CodeOf 提取错误码，非流程图错误返回空
func CodeOf(err error) ErrorCode {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, ErrCorruptGraph) {
		return CodeCorruptGraph
	}
	return ""
}
