package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.MongoDB != "tutorcall" {
		t.Errorf("MongoDB = %q, want %q", cfg.MongoDB, "tutorcall")
	}
	if cfg.RoomMaxAge != 3*time.Hour {
		t.Errorf("RoomMaxAge = %v, want 3h", cfg.RoomMaxAge)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.ReconnectGrace != 30*time.Second {
		t.Errorf("ReconnectGrace = %v, want 30s", cfg.ReconnectGrace)
	}
	if cfg.StatusCacheTTL != 15*time.Second {
		t.Errorf("StatusCacheTTL = %v, want 15s", cfg.StatusCacheTTL)
	}
	if !reflect.DeepEqual(cfg.STUNList(), DefaultSTUNURLs) {
		t.Errorf("STUNList = %v, want defaults", cfg.STUNList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_INTERVAL", "45s")
	t.Setenv("STUN_URLS", "stun:a.example:3478, stun:b.example:3478")
	t.Setenv("REDIS_URI", "redis://cache:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.SweepInterval != 45*time.Second {
		t.Errorf("SweepInterval = %v, want 45s", cfg.SweepInterval)
	}
	want := []string{"stun:a.example:3478", "stun:b.example:3478"}
	if got := cfg.STUNList(); !reflect.DeepEqual(got, want) {
		t.Errorf("STUNList = %v, want %v", got, want)
	}
	if got := cfg.RedisAddr(); got != "cache:6379" {
		t.Errorf("RedisAddr = %q, want cache:6379", got)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "zero max age", env: map[string]string{"JWT_SECRET": "s", "ROOM_MAX_AGE": "0s"}},
		{name: "zero sweep", env: map[string]string{"JWT_SECRET": "s", "SWEEP_INTERVAL": "0s"}},
		{name: "negative grace", env: map[string]string{"JWT_SECRET": "s", "RECONNECT_GRACE": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
