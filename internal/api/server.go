package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/identity"
	"intellibotic/internal/domain/simulator"
	applog "intellibotic/internal/platform/log"
	"intellibotic/internal/platform/metrics"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxUploadMB  int // 导入文件大小上限
	MaxSteps     int // walk 接口步数上限
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxUploadMB:  5,
		MaxSteps:     100,
	}
}

// Deps 路由依赖的用例服务
type Deps struct {
	Bots    *bot.Service
	Sims    *simulator.Service
	Auth    *identity.Service
	Metrics *metrics.Metrics // 可为空
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	deps    Deps
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, deps Deps) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{config: config, deps: deps}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		ErrorLog:     zap.NewStdLog(applog.Zap().Named("http")),
	}

	applog.Infof("🚀 Intellibotic API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if s.deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if s.deps.Bots == nil || s.deps.Sims == nil {
		return nil, fmt.Errorf("bot and simulator services are required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	authHandler := NewAuthHandler(s.deps.Auth)
	botHandler := NewBotHandler(s.deps.Bots, int64(s.config.MaxUploadMB)<<20)
	flowHandler := NewFlowHandler(s.deps.Bots, s.deps.Sims, s.deps.Metrics, s.config.MaxSteps)
	simHandler := NewSimulationHandler(s.deps.Sims)

	authHandler.RegisterPublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.deps.Auth))
		authHandler.RegisterProtectedRoutes(r)
		botHandler.RegisterRoutes(r)
		flowHandler.RegisterRoutes(r)
		simHandler.RegisterRoutes(r)
	})
	return r, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
