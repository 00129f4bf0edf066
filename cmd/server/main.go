package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"intellibotic/internal/api"
	"intellibotic/internal/app/bootstrap"
	"intellibotic/internal/db/postgres"
	redisdb "intellibotic/internal/db/redis"
	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/identity"
	"intellibotic/internal/domain/simulator"
	"intellibotic/internal/platform/config"
	applog "intellibotic/internal/platform/log"
	"intellibotic/internal/platform/metrics"
)

const (
	pingTimeout     = 5 * time.Second
	stepLockTTL     = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

// stores 按运行模式装配的存储端口
type stores struct {
	bots     bot.Repository
	users    identity.UserStore
	denylist identity.Denylist
	sessions simulator.Store
	locker   simulator.Locker
	closers  []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	defer applog.Sync()

	st, err := openStores(cfg)
	if err != nil {
		applog.Fatalf("❌ %v", err)
	}
	defer func() {
		for _, closeFn := range st.closers {
			_ = closeFn()
		}
	}()

	bootstrap.Functions()

	m := metrics.New()
	bots := bot.NewService(st.bots)
	engine := simulator.NewEngine(simulator.EngineConfig{
		MaxSteps:        cfg.Flow.MaxSteps,
		FunctionTimeout: cfg.FunctionTimeout(),
		AIPlaceholder:   cfg.Simulator.AIPlaceholder,
	}, m)
	sims := simulator.NewService(engine, bots, st.sessions, st.locker)
	auth := identity.NewService(identity.Config{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.JWTIssuer,
		TTL:        cfg.TokenTTL(),
		BcryptCost: cfg.Auth.BcryptCost,
	}, st.users, st.denylist)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.MaxUploadMB = cfg.Server.MaxUploadMB
	serverConfig.MaxSteps = cfg.Flow.MaxSteps
	server := api.NewServer(serverConfig, api.Deps{
		Bots:    bots,
		Sims:    sims,
		Auth:    auth,
		Metrics: m,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// openStores DATABASE_URL=memory:// 时全部使用进程内存储，否则 PostgreSQL + Redis
func openStores(cfg *config.AppConfig) (*stores, error) {
	if cfg.UsesMemoryStore() {
		applog.Warn("⚠️  Using in-memory stores, data is lost on restart")
		return &stores{
			bots:     bot.NewMemoryRepository(),
			users:    identity.NewMemoryUserStore(),
			denylist: identity.NewMemoryDenylist(),
			sessions: simulator.NewMemoryStore(),
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		applog.Info("✅ Database migrations applied (users, bots)")
	}

	rdb, err := redisdb.Open(ctx, cfg.Redis.URL, pingTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	applog.Info("✅ Connected to Redis")

	return &stores{
		bots:     botRepository(db, rdb, cfg.FlowCacheTTL()),
		users:    postgres.NewUserRepository(db),
		denylist: redisdb.NewDenylist(rdb),
		sessions: redisdb.NewSessionStore(redisdb.SessionStoreConfig{
			Client: rdb,
			TTL:    cfg.SessionTTL(),
		}),
		locker:  redisdb.NewStepLock(rdb, stepLockTTL),
		closers: []func() error{rdb.Close, db.Close},
	}, nil
}

func botRepository(db *sql.DB, rdb *goredis.Client, cacheTTL time.Duration) bot.Repository {
	repo := postgres.NewBotRepository(db)
	if cacheTTL <= 0 {
		applog.Info("ℹ️  Flow cache disabled")
		return repo
	}
	applog.Infof("✅ Flow cache initialized (TTL: %s)", cacheTTL)
	return redisdb.NewFlowCache(repo, rdb, cacheTTL)
}
