package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	"intellibotic/internal/domain/identity"
	"intellibotic/internal/domain/simulator"
	applog "intellibotic/internal/platform/log"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorCode(w, status, "", message)
}

// writeErrorCode 带错误码的统一错误响应
func writeErrorCode(w http.ResponseWriter, status int, code string, message string) {
	writeErrorData(w, status, code, message, nil)
}

func writeErrorData(w http.ResponseWriter, status int, code, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Error:   code,
		Message: message,
		Data:    data,
	})
}

// errorStatus 领域错误到 HTTP 状态码与错误码的映射
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, bot.ErrInvalidBot):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, identity.ErrAuth), errors.Is(err, identity.ErrTokenRevoked):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, bot.ErrBotNotFound),
		errors.Is(err, flow.ErrNotFound),
		errors.Is(err, simulator.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, flow.ErrDuplicateID),
		errors.Is(err, bot.ErrBotNameTaken),
		errors.Is(err, identity.ErrUserExists),
		errors.Is(err, simulator.ErrSessionConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, flow.ErrInvalidKind),
		errors.Is(err, flow.ErrCycleThroughStart),
		errors.Is(err, flow.ErrForbiddenOperation),
		errors.Is(err, flow.ErrCorruptGraph),
		errors.Is(err, simulator.ErrSessionFinished):
		return http.StatusUnprocessableEntity, "unprocessable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeDomainError 按错误类型写出响应；结构损坏时附带校验问题列表
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		applog.FromContext(r.Context()).Error("[API] Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorCode(w, status, code, "internal server error")
		return
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) && len(reqErr.Fields) > 0 {
		writeErrorData(w, status, code, reqErr.Error(), map[string]any{"fields": reqErr.Fields})
		return
	}
	var ce *flow.CorruptError
	if errors.As(err, &ce) {
		writeErrorData(w, status, code, err.Error(), map[string]any{"issues": ce.Issues})
		return
	}
	if fe := flow.CodeOf(err); fe != "" {
		writeErrorData(w, status, string(fe), err.Error(), nil)
		return
	}
	writeErrorCode(w, status, code, err.Error())
}
