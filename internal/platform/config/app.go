package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MemoryDatabaseURL 使用进程内存储（仅本地开发）
const MemoryDatabaseURL = "memory://"

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string          `json:"log_level"`
	LogFormat string          `json:"log_format"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Auth      AuthConfig      `json:"auth"`
	Flow      FlowConfig      `json:"flow"`
	Simulator SimulatorConfig `json:"simulator"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	MaxUploadMB         int    `json:"max_upload_mb"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	AutoMigrate            bool   `json:"auto_migrate"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret       string `json:"jwt_secret"`
	JWTIssuer       string `json:"jwt_issuer"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
	BcryptCost      int    `json:"bcrypt_cost"`
}

type FlowConfig struct {
	MaxSteps        int `json:"max_steps"`
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

type SimulatorConfig struct {
	SessionTTLMinutes int    `json:"session_ttl_minutes"`
	FunctionTimeoutMS int    `json:"function_timeout_ms"`
	AIPlaceholder     string `json:"ai_placeholder"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8000,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 60,
			MaxUploadMB:         5,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
			AutoMigrate:            true,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 30,
			BcryptCost:      10,
		},
		Flow: FlowConfig{
			MaxSteps:        100,
			CacheTTLSeconds: 300,
		},
		Simulator: SimulatorConfig{
			SessionTTLMinutes: 60,
			FunctionTimeoutMS: 2000,
			AIPlaceholder:     "[AI response placeholder]",
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	_ = godotenv.Load() // .env 非必需

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyInt("SERVER_MAX_UPLOAD_MB", &c.Server.MaxUploadMB)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)
	applyBool("DATABASE_AUTO_MIGRATE", &c.Database.AutoMigrate)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)
	applyInt("ACCESS_TOKEN_EXPIRE_MINUTES", &c.Auth.TokenTTLMinutes)
	applyInt("BCRYPT_COST", &c.Auth.BcryptCost)

	applyInt("FLOW_MAX_STEPS", &c.Flow.MaxSteps)
	applyInt("FLOW_CACHE_TTL", &c.Flow.CacheTTLSeconds)

	applyInt("SIMULATOR_SESSION_TTL", &c.Simulator.SessionTTLMinutes)
	applyInt("SIMULATOR_FUNCTION_TIMEOUT_MS", &c.Simulator.FunctionTimeoutMS)
	applyString("SIMULATOR_AI_PLACEHOLDER", &c.Simulator.AIPlaceholder)
}

func (c *AppConfig) normalize() {
	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = 30
	}
	if c.Flow.MaxSteps <= 0 {
		c.Flow.MaxSteps = 100
	}
	if c.Simulator.FunctionTimeoutMS <= 0 {
		c.Simulator.FunctionTimeoutMS = 2000
	}
	if c.Simulator.SessionTTLMinutes <= 0 {
		c.Simulator.SessionTTLMinutes = 60
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate 校验必填项；memory:// 模式不需要 Redis
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Redis.URL) == "" && !c.UsesMemoryStore() {
		return fmt.Errorf("REDIS_URL is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

// UsesMemoryStore 是否使用进程内存储
func (c *AppConfig) UsesMemoryStore() bool {
	return strings.TrimSpace(c.Database.URL) == MemoryDatabaseURL
}

// TokenTTL 访问令牌有效期
func (c *AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// SessionTTL 模拟会话有效期
func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.Simulator.SessionTTLMinutes) * time.Minute
}

// FunctionTimeout code 节点函数超时
func (c *AppConfig) FunctionTimeout() time.Duration {
	return time.Duration(c.Simulator.FunctionTimeoutMS) * time.Millisecond
}

// FlowCacheTTL 流程图缓存有效期
func (c *AppConfig) FlowCacheTTL() time.Duration {
	return time.Duration(c.Flow.CacheTTLSeconds) * time.Second
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
