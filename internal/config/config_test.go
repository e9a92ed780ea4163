package config_test

import (
	"os"
	"testing"

	"github.com/watup-lk/identity-service/internal/config"
)

var envKeys = []string{
	"PORT", "GRPC_PORT", "METRICS_PORT", "DATABASE_URL", "REDIS_ADDR",
	"KAFKA_BROKERS", "AZURE_KEYVAULT_URL", "ENVIRONMENT", "AUTH_SECRETS",
	"IP_SALT", "ARGON2_TIME", "ARGON2_MEMORY_KB", "ARGON2_THREADS",
	"ARGON2_KEY_LEN", "TOKEN_EXPIRES_SECONDS", "KEY_REFRESH_INTERVAL_SECONDS",
}

func clearEnv() {
	for _, k := range envKeys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := config.Load()

	if cfg.Port != "8080" {
		t.Errorf("Port: expected 8080, got %s", cfg.Port)
	}
	if cfg.GRPCPort != "50052" {
		t.Errorf("GRPCPort: expected 50052, got %s", cfg.GRPCPort)
	}
	if cfg.MetricsPort != "9090" {
		t.Errorf("MetricsPort: expected 9090, got %s", cfg.MetricsPort)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL: expected empty, got %s", cfg.DatabaseURL)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("KafkaBrokers: expected [localhost:9092], got %v", cfg.KafkaBrokers)
	}
	if cfg.Environment != config.EnvLocal {
		t.Errorf("Environment: expected local, got %s", cfg.Environment)
	}
	if !cfg.Environment.IsLocal() {
		t.Error("Environment.IsLocal(): expected true")
	}
	// local environment seeds a convenience pepper so the service boots
	// without operator setup.
	if len(cfg.Secrets) != 1 {
		t.Errorf("Secrets: expected 1 local fallback pepper, got %d", len(cfg.Secrets))
	}
	if cfg.Argon2.Time != 3 || cfg.Argon2.Memory != 65536 || cfg.Argon2.Threads != 2 {
		t.Errorf("Argon2: unexpected defaults %+v", cfg.Argon2)
	}
	if cfg.TokenExpiresSeconds != 60*60*24*30 {
		t.Errorf("TokenExpiresSeconds: expected 30 days, got %d", cfg.TokenExpiresSeconds)
	}
	if cfg.KeyRefreshInterval != 60*60*24 {
		t.Errorf("KeyRefreshInterval: expected 24h, got %d", cfg.KeyRefreshInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv()
	os.Setenv("PORT", "3000")
	os.Setenv("GRPC_PORT", "50051")
	os.Setenv("METRICS_PORT", "9091")
	os.Setenv("DATABASE_URL", "postgres://test")
	os.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	os.Setenv("ENVIRONMENT", "prod")
	os.Setenv("AUTH_SECRETS", "aabbcc,ddeeff")
	os.Setenv("ARGON2_TIME", "5")
	defer clearEnv()

	cfg := config.Load()

	if cfg.Port != "3000" {
		t.Errorf("Port: expected 3000, got %s", cfg.Port)
	}
	if cfg.GRPCPort != "50051" {
		t.Errorf("GRPCPort: expected 50051, got %s", cfg.GRPCPort)
	}
	if cfg.MetricsPort != "9091" {
		t.Errorf("MetricsPort: expected 9091, got %s", cfg.MetricsPort)
	}
	if cfg.DatabaseURL != "postgres://test" {
		t.Errorf("DatabaseURL: expected postgres://test, got %s", cfg.DatabaseURL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "broker1:9092" {
		t.Errorf("KafkaBrokers: expected [broker1:9092,broker2:9092], got %v", cfg.KafkaBrokers)
	}
	if cfg.Environment.IsLocal() {
		t.Error("Environment.IsLocal(): expected false for prod")
	}
	if len(cfg.Secrets) != 2 {
		t.Fatalf("Secrets: expected 2 peppers, got %d", len(cfg.Secrets))
	}
	if cfg.Argon2.Time != 5 {
		t.Errorf("Argon2.Time: expected 5, got %d", cfg.Argon2.Time)
	}
}

func TestLoad_InvalidIntFallback(t *testing.T) {
	clearEnv()
	os.Setenv("ARGON2_TIME", "not-a-number")
	defer clearEnv()

	cfg := config.Load()
	if cfg.Argon2.Time != 3 {
		t.Errorf("expected fallback 3, got %d", cfg.Argon2.Time)
	}
}

func TestLoad_MalformedSecretsSkipped(t *testing.T) {
	clearEnv()
	os.Setenv("AUTH_SECRETS", "not-hex,aabbcc")
	defer clearEnv()

	cfg := config.Load()
	if len(cfg.Secrets) != 1 {
		t.Fatalf("expected malformed hex entries to be skipped, got %d secrets", len(cfg.Secrets))
	}
}
