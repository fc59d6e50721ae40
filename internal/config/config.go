// Package config loads server configuration from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSTUNURLs are the public Google STUN servers handed to clients when STUN_URLS is unset
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Config holds server configuration loaded from the environment.
type Config struct {
	// Port is the HTTP listen port (REST and websocket share it).
	Port string `mapstructure:"PORT"`
	// MongoURI is the connection string of the booking database.
	MongoURI string `mapstructure:"MONGO_URI"`
	// MongoDB is the database holding the sessions collection.
	MongoDB string `mapstructure:"MONGO_DB"`
	// RedisURI is the cache address; a redis:// prefix is accepted.
	RedisURI string `mapstructure:"REDIS_URI"`
	// JWTSecret is the HS256 key shared with the account service.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// CORSAllowedOrigins is a comma-separated origin allow list; "*" allows all.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "console" for human output, anything else for JSON.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// RoomMaxAge bounds how long an in-memory room may live before the sweep reclaims it.
	RoomMaxAge time.Duration `mapstructure:"ROOM_MAX_AGE"`
	// SweepInterval is how often the relay sweeps stale rooms and participants.
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	// ReconnectGrace is how long a participant whose socket closed keeps its slot.
	ReconnectGrace time.Duration `mapstructure:"RECONNECT_GRACE"`
	// StatusCacheTTL is the lifetime of call-status snapshots in Redis.
	StatusCacheTTL time.Duration `mapstructure:"STATUS_CACHE_TTL"`
	// PersistTimeout bounds each lifecycle write issued from the relay loop.
	PersistTimeout time.Duration `mapstructure:"PERSIST_TIMEOUT"`

	// STUNURLs is a comma-separated list of STUN urls; empty means DefaultSTUNURLs.
	STUNURLs string `mapstructure:"STUN_URLS"`
}

// Load reads .env (if present), then builds and validates Config from the environment.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "tutorcall")
	v.SetDefault("REDIS_URI", "localhost:6379")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("ROOM_MAX_AGE", "3h")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("RECONNECT_GRACE", "30s")
	v.SetDefault("STATUS_CACHE_TTL", "15s")
	v.SetDefault("PERSIST_TIMEOUT", "5s")
	v.SetDefault("STUN_URLS", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if cfg.RoomMaxAge <= 0 {
		return nil, errors.New("config: ROOM_MAX_AGE must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, errors.New("config: SWEEP_INTERVAL must be positive")
	}
	if cfg.ReconnectGrace < 0 {
		return nil, errors.New("config: RECONNECT_GRACE must not be negative")
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	return &cfg, nil
}

// RedisAddr strips the redis:// scheme so the value can be used as redis.Options.Addr
func (c *Config) RedisAddr() string {
	return strings.TrimPrefix(c.RedisURI, "redis://")
}

// STUNList returns the configured STUN urls, falling back to DefaultSTUNURLs
func (c *Config) STUNList() []string {
	out := splitList(c.STUNURLs)
	if len(out) == 0 {
		return append([]string(nil), DefaultSTUNURLs...)
	}
	return out
}

// AllowedOrigins returns the CORS allow list
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
