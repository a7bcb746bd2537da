package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Video: VideoConfig{BaseURL: "https://meet.example", AppSecret: "s"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Calls.Store != StoreMemory {
		t.Fatalf("expected memory store default, got %q", c.Calls.Store)
	}
	if c.Calls.RingTimeout != 30*time.Second || c.Calls.CredentialTimeout != 10*time.Second {
		t.Fatalf("unexpected call timeouts %+v", c.Calls)
	}
	if c.Video.Provider != VideoJitsi || c.Video.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected video defaults %+v", c.Video)
	}
	if c.OpenAI.Model == "" {
		t.Fatalf("expected default model")
	}
}

func TestValidate_ProductionRejectsMemoryStore(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Calls.Store = StoreMemory
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "CALL_STORE") {
		t.Fatalf("expected CALL_STORE error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Calls.Store = StorePostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_PostgresDefaultsSSLModeLocally(t *testing.T) {
	c := validLocal()
	c.Calls.Store = StorePostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RingingLimitNeedsRedis(t *testing.T) {
	c := validLocal()
	c.Calls.RingingLimit = 2
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "REDIS_HOST") {
		t.Fatalf("expected redis error, got %v", err)
	}
}

func TestValidate_LiveKitCredentials(t *testing.T) {
	c := validLocal()
	c.Video.Provider = VideoLiveKit
	if err := c.Validate(); err == nil {
		t.Fatalf("expected livekit credential error")
	}
	c.Video.LiveKitAPIKey, c.Video.LiveKitAPISecret = "k", "s"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
