package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var errBadRequest = errors.New("bad request")

// FieldError 单个字段的校验失败
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// requestError 请求体解析或校验失败（400）
type requestError struct {
	Message string
	Fields  []FieldError
}

func (e *requestError) Error() string {
	return e.Message
}

func (e *requestError) Unwrap() error {
	return errBadRequest
}

func badRequest(format string, args ...any) error {
	return &requestError{Message: fmt.Sprintf(format, args...)}
}

var nodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,100}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误信息使用 json 字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("node_id", func(fl validator.FieldLevel) bool {
		return nodeIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// validateStruct 执行 struct tag 校验
func validateStruct(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest("invalid request: %v", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", fe.Field(), fe.Tag()))
	}
	return &requestError{Message: "validation failed: " + strings.Join(msgs, "; "), Fields: fields}
}

// decodeJSON 解析 JSON 请求体并校验
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON: %v", err)
	}
	return validateStruct(dst)
}
