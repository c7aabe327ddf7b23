// Package config provides configuration management for curl2.
// It loads and parses the YAML configuration file, applies environment
// overrides, and exposes the defaults the client applies to every request:
// TLS policy, timeouts, redirects, compression, caching and DNS pinning.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Aslarex/go-curl2/internal/embedded"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxConcurrency is the in-flight ceiling when none is configured.
	DefaultMaxConcurrency = 250

	// DefaultMaxBodySize bounds a response body when none is configured.
	DefaultMaxBodySize int64 = 64 << 20

	// DefaultCacheTTL applies to cache writes without a per-call TTL.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultDNSTTL bounds how long a resolved host pin is reused.
	DefaultDNSTTL = 60 * time.Second

	// DefaultLogMaxSizeMB is the size at which curl2.log is rotated.
	DefaultLogMaxSizeMB = 10
)

// Cache backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// LogRotation controls when curl2.log is rotated and how many old files stay.
type LogRotation struct {
	MaxSizeMB  int  `yaml:"max-size-mb" json:"max-size-mb"`
	MaxBackups int  `yaml:"max-backups" json:"max-backups"`
	MaxAgeDays int  `yaml:"max-age-days" json:"max-age-days"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// CurlBinary is the path of the transport executable.
	CurlBinary string `yaml:"curl-binary" json:"curl-binary"`

	Debug         bool   `yaml:"debug" json:"debug"`
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir        string `yaml:"log-dir" json:"log-dir"`
	// LogRotation bounds curl2.log when logging to a file.
	LogRotation LogRotation `yaml:"log-rotation" json:"log-rotation"`

	// MaxConcurrency is the admission ceiling for in-flight transport processes.
	MaxConcurrency int `yaml:"max-concurrency" json:"max-concurrency"`

	// MaxBodySize is the largest raw response accepted, in bytes. Zero disables the check.
	MaxBodySize int64 `yaml:"max-body-size" json:"max-body-size"`

	Defaults RequestDefaults `yaml:"defaults" json:"defaults"`
	Cache    CacheConfig     `yaml:"cache" json:"cache"`
	DNS      DNSConfig       `yaml:"dns" json:"dns"`
	Server   ServerConfig    `yaml:"server" json:"server"`
}

// RequestDefaults are applied to every request that leaves the field unset.
type RequestDefaults struct {
	// TLSVersions lists the allowed TLS versions, e.g. ["1.2", "1.3"].
	TLSVersions  []string `yaml:"tls-versions" json:"tls-versions"`
	Ciphers      []string `yaml:"ciphers" json:"ciphers"`
	TLS13Ciphers []string `yaml:"tls13-ciphers" json:"tls13-ciphers"`

	Compress        *bool         `yaml:"compress,omitempty" json:"compress,omitempty"`
	ConnectTimeout  time.Duration `yaml:"connect-timeout" json:"connect-timeout"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	MaxRedirects    int           `yaml:"max-redirects" json:"max-redirects"`
	FollowRedirects *bool         `yaml:"follow-redirects,omitempty" json:"follow-redirects,omitempty"`

	// HTTPVersion is one of auto, 1.0, 1.1, 2, 2-prior-knowledge, 3, 3-only.
	HTTPVersion string `yaml:"http-version" json:"http-version"`

	// ProxyURL is the proxy used by requests that do not name one.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	UserAgent   string `yaml:"user-agent" json:"user-agent"`
	HeaderOrder bool   `yaml:"header-order" json:"header-order"`
}

// CacheConfig selects and configures the response cache store.
type CacheConfig struct {
	// Backend is one of none, memory, redis, sqlite, postgres.
	Backend string `yaml:"backend" json:"backend"`

	// Enabled turns caching on for requests that do not decide for themselves.
	Enabled bool `yaml:"enabled" json:"enabled"`

	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	KeyFields []string      `yaml:"key-fields" json:"key-fields"`

	Memory   MemoryCacheConfig   `yaml:"memory" json:"memory"`
	Redis    RedisCacheConfig    `yaml:"redis" json:"redis"`
	SQLite   SQLiteCacheConfig   `yaml:"sqlite" json:"sqlite"`
	Postgres PostgresCacheConfig `yaml:"postgres" json:"postgres"`
}

// MemoryCacheConfig configures the in-process store.
type MemoryCacheConfig struct {
	SweepInterval time.Duration `yaml:"sweep-interval" json:"sweep-interval"`
}

// RedisCacheConfig configures the Redis store.
type RedisCacheConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// SQLiteCacheConfig configures the SQLite store.
type SQLiteCacheConfig struct {
	Path          string        `yaml:"path" json:"path"`
	SweepInterval time.Duration `yaml:"sweep-interval" json:"sweep-interval"`
}

// PostgresCacheConfig configures the PostgreSQL store.
type PostgresCacheConfig struct {
	DSN   string `yaml:"dsn" json:"-"`
	Table string `yaml:"table" json:"table"`
}

// DNSConfig holds resolver defaults for host pinning.
type DNSConfig struct {
	Servers []string      `yaml:"servers" json:"servers"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	Listen            string        `yaml:"listen" json:"listen"`
	ReadHeaderTimeout time.Duration `yaml:"read-header-timeout" json:"read-header-timeout"`
	// APIKeys, when set, are required as bearer tokens on /v1 routes.
	APIKeys []string `yaml:"api-keys" json:"-"`
}

// NewDefaultConfig creates a new Config with sensible defaults.
// The client works without a config file using these values.
func NewDefaultConfig() *Config {
	return &Config{
		CurlBinary:     "curl",
		MaxConcurrency: DefaultMaxConcurrency,
		MaxBodySize:    DefaultMaxBodySize,
		LogRotation:    LogRotation{MaxSizeMB: DefaultLogMaxSizeMB, MaxBackups: 3, MaxAgeDays: 14},
		Defaults: RequestDefaults{
			TLSVersions:  []string{"1.2", "1.3"},
			MaxRedirects: 10,
			HTTPVersion:  "auto",
		},
		Cache: CacheConfig{
			Backend: BackendNone,
			TTL:     DefaultCacheTTL,
			Memory:  MemoryCacheConfig{SweepInterval: time.Minute},
			SQLite: SQLiteCacheConfig{
				Path:          "$XDG_CACHE_HOME/curl2/cache.db",
				SweepInterval: 10 * time.Minute,
			},
			Postgres: PostgresCacheConfig{Table: "curl2_cache"},
		},
		DNS: DNSConfig{TTL: DefaultDNSTTL},
		Server: ServerConfig{
			Listen:            "127.0.0.1:8642",
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// GenerateDefaultConfigYAML returns the commented default configuration.
func GenerateDefaultConfigYAML() []byte {
	return bytes.Clone(embedded.DefaultConfigTemplate)
}

// LoadConfig reads a YAML configuration file from the given path.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns a default Config.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if optional && len(strings.TrimSpace(string(data))) == 0 {
		return NewDefaultConfig(), nil
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and sanitizes the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sanitize normalizes values and rejects unusable ones.
func (c *Config) Sanitize() error {
	if strings.TrimSpace(c.CurlBinary) == "" {
		c.CurlBinary = "curl"
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxBodySize < 0 {
		c.MaxBodySize = 0
	}
	if c.LogRotation.MaxSizeMB <= 0 {
		c.LogRotation.MaxSizeMB = DefaultLogMaxSizeMB
	}
	c.LogRotation.MaxBackups = max(c.LogRotation.MaxBackups, 0)
	c.LogRotation.MaxAgeDays = max(c.LogRotation.MaxAgeDays, 0)
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.DNS.TTL <= 0 {
		c.DNS.TTL = DefaultDNSTTL
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case "", BackendNone:
		c.Cache.Backend = BackendNone
	case BackendMemory, BackendRedis, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	c.Cache.KeyFields = normalizeList(c.Cache.KeyFields, strings.ToLower)
	c.DNS.Servers = normalizeList(c.DNS.Servers, nil)
	c.Defaults.TLSVersions = normalizeList(c.Defaults.TLSVersions, nil)
	c.Defaults.Ciphers = normalizeList(c.Defaults.Ciphers, nil)
	c.Defaults.TLS13Ciphers = normalizeList(c.Defaults.TLS13Ciphers, nil)
	c.Server.APIKeys = normalizeList(c.Server.APIKeys, nil)
	return nil
}

// ApplyEnv overrides configuration from CURL2_* environment variables.
func (c *Config) ApplyEnv() {
	lookupEnv := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := os.LookupEnv(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if value, ok := lookupEnv("CURL2_BINARY"); ok {
		c.CurlBinary = value
	}
	if value, ok := lookupEnv("CURL2_MAX_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			c.MaxConcurrency = n
		}
	}
	if value, ok := lookupEnv("CURL2_CACHE_BACKEND"); ok {
		c.Cache.Backend = strings.ToLower(value)
	}
	if value, ok := lookupEnv("CURL2_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = value
	}
	if value, ok := lookupEnv("CURL2_POSTGRES_DSN"); ok {
		c.Cache.Postgres.DSN = value
	}
	if value, ok := lookupEnv("CURL2_DEBUG"); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			c.Debug = b
		}
	}
}

// ExpandPath expands a leading ~ and environment variables such as
// $XDG_CACHE_HOME, falling back to the user cache directory for the latter.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		p = home + p[1:]
	}
	return os.Expand(p, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		switch key {
		case "XDG_CACHE_HOME":
			if dir, err := os.UserCacheDir(); err == nil {
				return dir
			}
		case "XDG_CONFIG_HOME":
			if dir, err := os.UserConfigDir(); err == nil {
				return dir
			}
		}
		return ""
	}), nil
}

func normalizeList(items []string, transform func(string) string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, raw := range items {
		v := strings.TrimSpace(raw)
		if transform != nil {
			v = transform(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
