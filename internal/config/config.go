package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "SERVICEDESK"
	defaultHTTPAddress        = "127.0.0.1:8090"
	defaultCachePath          = "servicedesk-cache.db"
	defaultCacheQuotaBytes    = 5 * 1024 * 1024
	defaultRemoteKeyPrefix    = "servicedesk"
	defaultRemoteWriteTimeout = 10 * time.Second
	defaultAdminID            = "admin1"
	defaultAdminName          = "Aljon Admin"
	defaultAdminEmail         = "aljon9353@gmail.com"
	defaultTokenTTLMinutes    = 720
	defaultLogLevel           = "info"
)

// AppConfig captures runtime configuration for the client agent.
type AppConfig struct {
	HTTPAddress        string
	CachePath          string
	CacheQuotaBytes    int64
	RedisURL           string
	RemoteKeyPrefix    string
	RemoteWriteTimeout time.Duration
	AdminID            string
	AdminName          string
	AdminEmail         string
	AdminPassword      string
	SigningSecret      string
	TokenTTL           time.Duration
	AllowedOrigins     []string
	LogLevel           string
}

// Offline reports whether no remote replica store is configured.
func (c AppConfig) Offline() bool {
	return strings.TrimSpace(c.RedisURL) == ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("cache.path", defaultCachePath)
	configViper.SetDefault("cache.quota_bytes", defaultCacheQuotaBytes)
	configViper.SetDefault("remote.redis_url", "")
	configViper.SetDefault("remote.key_prefix", defaultRemoteKeyPrefix)
	configViper.SetDefault("remote.write_timeout", defaultRemoteWriteTimeout)
	configViper.SetDefault("admin.id", defaultAdminID)
	configViper.SetDefault("admin.name", defaultAdminName)
	configViper.SetDefault("admin.email", defaultAdminEmail)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		CachePath:          configViper.GetString("cache.path"),
		CacheQuotaBytes:    configViper.GetInt64("cache.quota_bytes"),
		RedisURL:           strings.TrimSpace(configViper.GetString("remote.redis_url")),
		RemoteKeyPrefix:    configViper.GetString("remote.key_prefix"),
		RemoteWriteTimeout: configViper.GetDuration("remote.write_timeout"),
		AdminID:            strings.TrimSpace(configViper.GetString("admin.id")),
		AdminName:          strings.TrimSpace(configViper.GetString("admin.name")),
		AdminEmail:         strings.ToLower(strings.TrimSpace(configViper.GetString("admin.email"))),
		AdminPassword:      configViper.GetString("admin.password"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:     configViper.GetStringSlice("cors.allowed_origins"),
		LogLevel:           configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.CacheQuotaBytes <= 0 {
		return fmt.Errorf("cache.quota_bytes must be positive")
	}
	if strings.TrimSpace(c.RemoteKeyPrefix) == "" {
		return fmt.Errorf("remote.key_prefix is required")
	}
	if c.AdminID == "" {
		return fmt.Errorf("admin.id is required")
	}
	if _, err := mail.ParseAddress(c.AdminEmail); err != nil {
		return fmt.Errorf("admin.email is invalid: %w", err)
	}
	if c.AdminPassword == "" {
		return fmt.Errorf("admin.password is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}
