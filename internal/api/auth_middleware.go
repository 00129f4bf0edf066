package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/identity"
	applog "intellibotic/internal/platform/log"
)

// authMiddleware JWT 鉴权中间件
// 验证 Authorization: Bearer <token>，注入 Scope 与 Bot owner
func authMiddleware(auth *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			id, err := auth.Resolve(r.Context(), tokenStr)
			if err != nil {
				applog.Warn("[Auth] Invalid JWT token", "request_id", middleware.GetReqID(r.Context()), "error", err)
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			scope := &Scope{
				UserID:    id.UserID,
				Username:  id.Username,
				TokenID:   id.TokenID,
				ExpiresAt: id.ExpiresAt,
			}
			ctx := WithScope(r.Context(), scope)
			ctx = bot.WithOwner(ctx, id.UserID)

			logger := applog.With("request_id", middleware.GetReqID(ctx), "user_id", id.UserID)
			ctx = applog.IntoContext(ctx, logger)
			logger.Debug("[Auth] Scope injected")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
