package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Crypto        CryptoConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
	IsProduction  bool
}

type ServerConfig struct {
	BindAddress    string
	Port           string
	AllowOrigins   string
	TrustedProxies []string
	MaxUploadMB    int
}

type DatabaseConfig struct {
	Path string
}

type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string
	Path    string
	S3      S3Config
}

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type CryptoConfig struct {
	// EncryptionKey is the base64 encoded 32-byte master key. Empty means ephemeral.
	EncryptionKey string
	Cipher        string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type SecurityConfig struct {
	MaxFailedLogins      int
	LockDuration         time.Duration
	RateWindow           time.Duration
	RegisterLimit        int
	LoginLimit           int
	ShareDownloadLimit   int
	PersistentRateLimits bool
}

type AuditConfig struct {
	QueueSize int
	Workers   int
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsToken   string
}

type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	CipherAESGCM           = "aes-256-gcm"
	CipherChaCha20Poly1305 = "chacha20-poly1305"

	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first without overriding variables that are already set.
func Load() *Config {
	loadDotEnvIfPresent()

	isProd := getEnv("ENVIRONMENT", "development") == "production"
	defaultSecret := ""
	if !isProd {
		defaultSecret = "dev-secret-change-in-production"
	}
	defaultBindAddress := "0.0.0.0"
	if isProd {
		// In production we default to loopback and rely on a reverse proxy.
		defaultBindAddress = "127.0.0.1"
	}

	return &Config{
		IsProduction: isProd,
		Server: ServerConfig{
			BindAddress:    getEnv("SERVER_BIND_ADDRESS", defaultBindAddress),
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowOrigins:   getEnv("ALLOW_ORIGINS", "http://localhost:5173"),
			TrustedProxies: splitCSV(getEnv("TRUSTED_PROXIES", "127.0.0.1,::1")),
			MaxUploadMB:    getEnvIntAny(100, "MAX_UPLOAD_MB"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./storage/vault.db"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendLocal)),
			Path:    getEnv("STORAGE_PATH", "./storage/blobs"),
			S3: S3Config{
				Endpoint:     getEnv("S3_ENDPOINT", ""),
				Region:       getEnv("S3_REGION", "us-east-1"),
				Bucket:       getEnv("S3_BUCKET", ""),
				AccessKey:    getEnv("S3_ACCESS_KEY", ""),
				SecretKey:    getEnv("S3_SECRET_KEY", ""),
				UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", true),
			},
		},
		Crypto: CryptoConfig{
			EncryptionKey: strings.TrimSpace(getEnv("ENCRYPTION_KEY", "")),
			Cipher:        strings.ToLower(getEnv("CIPHER", CipherAESGCM)),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(getEnv("JWT_SECRET", defaultSecret)),
			TokenTTL:  time.Duration(getEnvIntAny(8, "TOKEN_TTL_HOURS")) * time.Hour,
		},
		Security: SecurityConfig{
			MaxFailedLogins:      getEnvIntAny(5, "MAX_FAILED_LOGINS"),
			LockDuration:         time.Duration(getEnvIntAny(15, "LOCK_MINUTES")) * time.Minute,
			RateWindow:           time.Duration(getEnvIntAny(60, "RATE_WINDOW_SECONDS")) * time.Second,
			RegisterLimit:        getEnvIntAny(8, "REGISTER_RATE_LIMIT"),
			LoginLimit:           getEnvIntAny(12, "LOGIN_RATE_LIMIT"),
			ShareDownloadLimit:   getEnvIntAny(30, "SHARE_DOWNLOAD_RATE_LIMIT"),
			PersistentRateLimits: getEnvBool("PERSISTENT_RATE_LIMITS", true),
		},
		Audit: AuditConfig{
			QueueSize: getEnvIntAny(1024, "AUDIT_QUEUE_SIZE"),
			Workers:   getEnvIntAny(2, "AUDIT_WORKERS"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvBool("METRICS_ENABLED", !isProd),
			MetricsToken:   strings.TrimSpace(getEnv("METRICS_TOKEN", "")),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvIntAny(100, "LOG_MAX_SIZE_MB"),
			MaxBackups: getEnvIntAny(5, "LOG_MAX_BACKUPS"),
			MaxAgeDays: getEnvIntAny(30, "LOG_MAX_AGE_DAYS"),
		},
	}
}

// Validate checks that the configuration is valid for the current environment.
// In production, it enforces stricter requirements.
func (c *Config) Validate() error {
	if c.IsProduction {
		if c.Auth.JWTSecret == "" {
			return errors.New("JWT_SECRET environment variable is required in production")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Crypto.EncryptionKey == "" {
			return errors.New("ENCRYPTION_KEY environment variable is required in production")
		}
		if c.Server.AllowOrigins == "*" {
			return errors.New("ALLOW_ORIGINS must not be wildcard (*) in production")
		}
		if c.Observability.MetricsEnabled && c.Observability.MetricsToken == "" {
			return errors.New("METRICS_TOKEN is required in production when METRICS_ENABLED=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}

	if c.Crypto.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Crypto.EncryptionKey)
		if err != nil || len(key) != 32 {
			return errors.New("ENCRYPTION_KEY must be base64 encoding of exactly 32 bytes")
		}
	}

	switch c.Crypto.Cipher {
	case CipherAESGCM, CipherChaCha20Poly1305:
	default:
		return fmt.Errorf("CIPHER must be %q or %q", CipherAESGCM, CipherChaCha20Poly1305)
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("STORAGE_PATH must not be empty for the local backend")
		}
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q", StorageBackendLocal, StorageBackendS3)
	}

	if c.Security.MaxFailedLogins < 1 {
		return errors.New("MAX_FAILED_LOGINS must be at least 1")
	}
	if c.Security.LockDuration <= 0 || c.Security.RateWindow <= 0 {
		return errors.New("LOCK_MINUTES and RATE_WINDOW_SECONDS must be positive")
	}

	if strings.TrimSpace(c.Server.BindAddress) == "" {
		return errors.New("SERVER_BIND_ADDRESS must not be empty")
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return errors.New("SERVER_PORT must be a valid port number (1-65535)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntAny(defaultValue int, keys ...string) int {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if intVal, err := strconv.Atoi(value); err == nil {
				return intVal
			}
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		out = append(out, v)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func loadDotEnvIfPresent() {
	if envFile := os.Getenv("VAULT_ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(".env")
	}
}
