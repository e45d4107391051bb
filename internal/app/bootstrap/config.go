package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the download gateway.
// It merges file defaults and environment overrides to support both local
// and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	// Store selects the shared-state backend: "memory" for single-process
	// deployments, "redis" when multiple gateway instances share the
	// cooldown, token and concurrency state.
	Store string
	// RedisURL accepts a redis:// URL or a bare host:port.
	RedisURL string
	// RedisPoolSize caps the client connection pool; zero keeps the
	// client default.
	RedisPoolSize int
	DatabaseURL   string
	MaxDBConns    int32

	ToolsRoot    string
	CatalogPath  string
	AuditLogPath string

	TokenTTL        time.Duration
	CooldownWindow  time.Duration
	MaxConcurrent   int
	ChunkSize       int
	SpeedLimitKBps  int
	DigestAlgorithm string

	SessionSecret string
	SessionTTL    time.Duration
	SecureCookies bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		Store         string `yaml:"store"`
		RedisURL      string `yaml:"redis_url"`
		RedisPoolSize int    `yaml:"redis_pool_size"`
		PostgresURL   string `yaml:"postgres_url"`
	} `yaml:"dependencies"`
	Downloads struct {
		ToolsRoot       string `yaml:"tools_root"`
		CatalogPath     string `yaml:"catalog_path"`
		AuditLogPath    string `yaml:"audit_log_path"`
		TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
		CooldownSeconds int    `yaml:"cooldown_seconds"`
		MaxConcurrent   int    `yaml:"max_concurrent"`
		ChunkBytes      int    `yaml:"chunk_bytes"`
		SpeedLimitKBps  int    `yaml:"speed_limit_kbps"`
		Digest          string `yaml:"digest"`
	} `yaml:"downloads"`
	Session struct {
		Secret        string `yaml:"secret"`
		TTLHours      int    `yaml:"ttl_hours"`
		SecureCookies bool   `yaml:"secure_cookies"`
	} `yaml:"session"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "download-gateway",
		HTTPPort:           8080,
		GRPCPort:           9090,
		Store:              "memory",
		MaxDBConns:         10,
		ToolsRoot:          "tools",
		CatalogPath:        "configs/tools.json",
		TokenTTL:           5 * time.Minute,
		CooldownWindow:     time.Minute,
		MaxConcurrent:      5,
		ChunkSize:          8 * 1024,
		SpeedLimitKBps:     0,
		DigestAlgorithm:    "md5",
		SessionTTL:         24 * time.Hour,
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxClaimTTL:     30 * time.Second,
		OutboxMaxRetries:   5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.Store != "" {
			cfg.Store = f.Dependencies.Store
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Dependencies.RedisPoolSize > 0 {
			cfg.RedisPoolSize = f.Dependencies.RedisPoolSize
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Downloads.ToolsRoot != "" {
			cfg.ToolsRoot = f.Downloads.ToolsRoot
		}
		if f.Downloads.CatalogPath != "" {
			cfg.CatalogPath = f.Downloads.CatalogPath
		}
		if f.Downloads.AuditLogPath != "" {
			cfg.AuditLogPath = f.Downloads.AuditLogPath
		}
		if f.Downloads.TokenTTLSeconds > 0 {
			cfg.TokenTTL = time.Duration(f.Downloads.TokenTTLSeconds) * time.Second
		}
		if f.Downloads.CooldownSeconds > 0 {
			cfg.CooldownWindow = time.Duration(f.Downloads.CooldownSeconds) * time.Second
		}
		if f.Downloads.MaxConcurrent > 0 {
			cfg.MaxConcurrent = f.Downloads.MaxConcurrent
		}
		if f.Downloads.ChunkBytes > 0 {
			cfg.ChunkSize = f.Downloads.ChunkBytes
		}
		if f.Downloads.SpeedLimitKBps > 0 {
			cfg.SpeedLimitKBps = f.Downloads.SpeedLimitKBps
		}
		if f.Downloads.Digest != "" {
			cfg.DigestAlgorithm = f.Downloads.Digest
		}
		if f.Session.Secret != "" {
			cfg.SessionSecret = f.Session.Secret
		}
		if f.Session.TTLHours > 0 {
			cfg.SessionTTL = time.Duration(f.Session.TTLHours) * time.Hour
		}
		cfg.SecureCookies = f.Session.SecureCookies
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(envOrDefault("STORE", cfg.Store)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.ToolsRoot = envOrDefault("TOOLS_ROOT", cfg.ToolsRoot)
	cfg.CatalogPath = envOrDefault("CATALOG_PATH", cfg.CatalogPath)
	cfg.AuditLogPath = envOrDefault("AUDIT_LOG_PATH", cfg.AuditLogPath)
	cfg.DigestAlgorithm = strings.ToLower(envOrDefault("DIGEST_ALGORITHM", cfg.DigestAlgorithm))
	cfg.SessionSecret = envOrDefault("SESSION_SECRET", cfg.SessionSecret)
	cfg.SecureCookies = envBool("SECURE_COOKIES", cfg.SecureCookies)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.RedisPoolSize = envInt("REDIS_POOL_SIZE", cfg.RedisPoolSize)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.MaxConcurrent = envInt("MAX_CONCURRENT_DOWNLOADS", cfg.MaxConcurrent)
	cfg.ChunkSize = envInt("CHUNK_BYTES", cfg.ChunkSize)
	cfg.SpeedLimitKBps = envInt("SPEED_LIMIT_KBPS", cfg.SpeedLimitKBps)

	cfg.TokenTTL = time.Duration(envInt("TOKEN_TTL_SECONDS", int(cfg.TokenTTL.Seconds()))) * time.Second
	cfg.CooldownWindow = time.Duration(envInt("COOLDOWN_SECONDS", int(cfg.CooldownWindow.Seconds()))) * time.Second
	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_HOURS", int(cfg.SessionTTL.Hours()))) * time.Hour
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = filepath.Join(cfg.ToolsRoot, "downloads.log")
	}

	switch cfg.Store {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("unknown store %q (want memory or redis)", cfg.Store)
	}
	if cfg.Store == "redis" && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL for redis store")
	}
	switch cfg.DigestAlgorithm {
	case "md5", "blake2b":
	default:
		return Config{}, fmt.Errorf("unknown digest %q (want md5 or blake2b)", cfg.DigestAlgorithm)
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
