package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file layered under the environment.
const FileEnv = "SALESGRID_CONFIG"

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Limits   LimitsConfig   `yaml:"limits"`
	Resolver ResolverConfig `yaml:"resolver"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// TrustedProxies may set X-Forwarded-For. Empty means the socket peer
	// is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// LimitsConfig configures request rate limiting. With RedisAddr set the
// window is shared across replicas.
type LimitsConfig struct {
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
	RedisAddr string        `yaml:"redis_addr"`
	Window    time.Duration `yaml:"window"`
}

type ResolverConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // SSE responses stay open
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{Issuer: "salesgrid"},
		Limits: LimitsConfig{
			RPS:    20,
			Burst:  40,
			Window: time.Second,
		},
		Resolver: ResolverConfig{
			CacheSize: 4096,
			CacheTTL:  5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// SALESGRID_CONFIG, and SALESGRID_* environment variables, in that order.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("SALESGRID_HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("SALESGRID_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.ReadTimeout = getEnvDuration("SALESGRID_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SALESGRID_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SALESGRID_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SALESGRID_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	if origins := getEnv("SALESGRID_CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	if proxies := getEnv("SALESGRID_TRUSTED_PROXIES", ""); proxies != "" {
		c.Server.TrustedProxies = splitList(proxies)
	}

	c.Postgres.DSN = getEnv("SALESGRID_PG_DSN", c.Postgres.DSN)
	c.Postgres.AutoMigrate = getEnvBool("SALESGRID_AUTO_MIGRATE", c.Postgres.AutoMigrate)
	c.Auth.Secret = getEnv("SALESGRID_AUTH_SECRET", c.Auth.Secret)
	c.Auth.Issuer = getEnv("SALESGRID_AUTH_ISSUER", c.Auth.Issuer)

	c.Limits.RPS = getEnvFloat("SALESGRID_RATE_RPS", c.Limits.RPS)
	c.Limits.Burst = getEnvInt("SALESGRID_RATE_BURST", c.Limits.Burst)
	c.Limits.RedisAddr = getEnv("SALESGRID_REDIS_ADDR", c.Limits.RedisAddr)
	c.Limits.Window = getEnvDuration("SALESGRID_RATE_WINDOW", c.Limits.Window)

	c.Resolver.CacheSize = getEnvInt("SALESGRID_RESOLVER_CACHE_SIZE", c.Resolver.CacheSize)
	c.Resolver.CacheTTL = getEnvDuration("SALESGRID_RESOLVER_CACHE_TTL", c.Resolver.CacheTTL)

	c.LogLevel = getEnv("SALESGRID_LOG_LEVEL", c.LogLevel)
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.Server.GRPCAddr != "" && c.Server.GRPCAddr == c.Server.HTTPAddr {
		errs = append(errs, errors.New("http and grpc addresses must differ"))
	}
	for _, p := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("trusted proxy %q is not an address or CIDR", p))
		}
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres DSN is required (SALESGRID_PG_DSN)"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth secret is required (SALESGRID_AUTH_SECRET)"))
	}
	if c.Limits.RPS <= 0 || c.Limits.Burst <= 0 {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.Limits.RedisAddr != "" && c.Limits.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if c.Resolver.CacheSize < 0 || c.Resolver.CacheTTL < 0 {
		errs = append(errs, errors.New("resolver cache size and ttl cannot be negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
