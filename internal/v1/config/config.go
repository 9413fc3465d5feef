// Package config validates and exposes the environment-derived configuration
// recognized by the signaling service.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Config holds validated environment configuration.
type Config struct {
	// Host is the listen address. Default "0.0.0.0".
	Host string
	// Port is the listen port. Default "9000".
	Port string

	// JWTSecret is the shared HS256 signing secret. Required; the service
	// refuses to start without it.
	JWTSecret string

	// ClusterMode enables the cluster registry and cluster bus. When false
	// the service runs single-node and never talks to the shared store.
	ClusterMode bool
	// RedisURL is the shared-store connection string. Default
	// "redis://localhost:6379".
	RedisURL string
	// NodeID identifies this node in the shared store's key layout.
	// Default: a random identifier generated at startup.
	NodeID string

	// LogLevel filters log verbosity. Default "info".
	LogLevel string
}

// ValidateEnv validates all recognized environment variables and returns a
// Config. Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	cfg.Port = getEnvOrDefault("PORT", "9000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}

	cfg.ClusterMode = os.Getenv("CLUSTER_MODE") == "true"

	cfg.RedisURL = getEnvOrDefault("REDIS_URL", "redis://localhost:6379")
	if cfg.ClusterMode && !isValidRedisURL(cfg.RedisURL) {
		errs = append(errs, fmt.Sprintf("REDIS_URL must be a redis:// URL (got '%s')", cfg.RedisURL))
	}

	cfg.NodeID = os.Getenv("NODE_ID")
	if cfg.NodeID == "" {
		cfg.NodeID = "node-" + uuid.NewString()
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidRedisURL performs a light sanity check on the scheme and host:port
// shape without dialing the store.
func isValidRedisURL(addr string) bool {
	rest, ok := strings.CutPrefix(addr, "redis://")
	if !ok {
		rest, ok = strings.CutPrefix(addr, "rediss://")
		if !ok {
			return false
		}
	}
	if idx := strings.Index(rest, "@"); idx >= 0 {
		rest = rest[idx+1:]
	}
	if rest == "" {
		return false
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port > 0 && port <= 65535 && parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"host", cfg.Host,
		"port", cfg.Port,
		"cluster_mode", cfg.ClusterMode,
		"redis_url", cfg.RedisURL,
		"node_id", cfg.NodeID,
		"log_level", cfg.LogLevel,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default
// value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
