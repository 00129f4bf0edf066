package api

import (
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"intellibotic/internal/domain/identity"
)

// AuthHandler 注册、登录、当前用户
type AuthHandler struct {
	auth *identity.Service
}

// NewAuthHandler 创建处理器
func NewAuthHandler(auth *identity.Service) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterPublicRoutes 无需 JWT 的路由
func (h *AuthHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/api/auth/register", h.Register)
	r.Post("/api/auth/login", h.Login)
	r.Post("/api/login", h.Login)
}

// RegisterProtectedRoutes 需要 JWT 的路由
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/api/me", h.Me)
	r.Get("/api/auth/me", h.Me)
	r.Post("/api/auth/logout", h.Logout)
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginRequest 登录请求；full_name 为旧客户端使用的用户名字段
type LoginRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password" validate:"required"`
}

// Register POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	u, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Login POST /api/login 接受表单或 JSON
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			writeDomainError(w, r, badRequest("invalid form: %v", err))
			return
		}
		req.Username = r.PostFormValue("username")
		req.FullName = r.PostFormValue("full_name")
		req.Password = r.PostFormValue("password")
		if err := validateStruct(&req); err != nil {
			writeDomainError(w, r, err)
			return
		}
	default:
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = strings.TrimSpace(req.FullName)
	}
	if username == "" {
		writeDomainError(w, r, &requestError{
			Message: "validation failed: username: failed on 'required'",
			Fields:  []FieldError{{Field: "username", Rule: "required"}},
		})
		return
	}

	token, err := h.auth.Authenticate(r.Context(), username, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// Me GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MustScopeFrom(r.Context()))
}

// Logout POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tokenStr, _ := bearerToken(r)
	if err := h.auth.Revoke(r.Context(), tokenStr); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
