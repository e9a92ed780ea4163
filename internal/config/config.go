package config

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// Environment mirrors the deployment environments referenced throughout the
// auth subsystem: local logs mail instead of sending it and relaxes cookie
// security flags; dev/prod source secrets from Key Vault.
type Environment string

const (
	EnvLocal Environment = "local"
	EnvDev   Environment = "dev"
	EnvProd  Environment = "prod"
	EnvTest  Environment = "test"
)

func (e Environment) IsLocal() bool { return e == EnvLocal || e == "" }

// Argon2Params are the Argon2id cost parameters used by PasswordHasher.
// Policy changes (e.g. raising Time/Memory) are what trigger rehash-on-verify.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

type Config struct {
	Port             string
	GRPCPort         string
	MetricsPort      string
	DatabaseURL      string
	RedisAddr        string
	KafkaBrokers     []string
	AzureKeyVaultURL string
	Environment      Environment

	// Peppers backing SecretStore (C1). secrets[0] is used for every
	// email hash so lookups stay deterministic; other indices are chosen
	// uniformly at hash time.
	Secrets [][]byte
	IPSalt  []byte

	Argon2 Argon2Params

	// TokenExpiresSeconds (default 30 days) and KeyRefreshInterval (default
	// 24h) are only reported at startup; the token codec and key ring use
	// their own fixed 30-day lifetime and 24h rotation window.
	TokenExpiresSeconds int
	KeyRefreshInterval  int
}

func Load() *Config {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GRPCPort:         getEnv("GRPC_PORT", "50052"),
		MetricsPort:      getEnv("METRICS_PORT", "9090"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		AzureKeyVaultURL: getEnv("AZURE_KEYVAULT_URL", ""),
		Environment:      Environment(getEnv("ENVIRONMENT", string(EnvLocal))),

		Secrets: parseSecrets(getEnv("AUTH_SECRETS", "")),
		IPSalt:  parseHex(getEnv("IP_SALT", "")),

		Argon2: Argon2Params{
			Time:    uint32(getEnvInt("ARGON2_TIME", 3)),
			Memory:  uint32(getEnvInt("ARGON2_MEMORY_KB", 65536)),
			Threads: uint8(getEnvInt("ARGON2_THREADS", 2)),
			KeyLen:  uint32(getEnvInt("ARGON2_KEY_LEN", 32)),
		},

		TokenExpiresSeconds: getEnvInt("TOKEN_EXPIRES_SECONDS", 60*60*24*30),
		KeyRefreshInterval:  getEnvInt("KEY_REFRESH_INTERVAL_SECONDS", 60*60*24),
	}

	// Override secrets from Azure Key Vault when running in AKS with Workload Identity
	if cfg.AzureKeyVaultURL != "" {
		cfg.loadFromKeyVault()
	}

	if len(cfg.Secrets) == 0 && cfg.Environment.IsLocal() {
		// Local convenience only: a single deterministic pepper so the
		// service boots without operator setup. Never reached in prod since
		// AUTH_SECRETS or Key Vault is required there (see validateConfig).
		cfg.Secrets = [][]byte{[]byte("local-development-pepper-do-not-use-in-prod")}
	}

	return cfg
}

// loadFromKeyVault fetches secrets from Azure Key Vault using Managed Identity (Workload Identity).
// Falls back gracefully to environment variables if Key Vault is not reachable.
func (c *Config) loadFromKeyVault() {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		log.Printf("[config] Azure Key Vault: could not obtain credentials, using env vars: %v", err)
		return
	}

	client, err := azsecrets.NewClient(c.AzureKeyVaultURL, cred, nil)
	if err != nil {
		log.Printf("[config] Azure Key Vault: could not create client, using env vars: %v", err)
		return
	}

	ctx := context.Background()

	if secret, err := client.GetSecret(ctx, "identity-db-url", "", nil); err == nil {
		c.DatabaseURL = *secret.Value
		log.Println("[config] Loaded identity-db-url from Azure Key Vault")
	} else {
		log.Printf("[config] Azure Key Vault: identity-db-url not found, using env var: %v", err)
	}

	if secret, err := client.GetSecret(ctx, "auth-secrets", "", nil); err == nil {
		c.Secrets = parseSecrets(*secret.Value)
		log.Println("[config] Loaded auth-secrets (peppers) from Azure Key Vault")
	} else {
		log.Printf("[config] Azure Key Vault: auth-secrets not found, using env var: %v", err)
	}

	if secret, err := client.GetSecret(ctx, "ip-salt", "", nil); err == nil {
		c.IPSalt = parseHex(*secret.Value)
		log.Println("[config] Loaded ip-salt from Azure Key Vault")
	} else {
		log.Printf("[config] Azure Key Vault: ip-salt not found, using env var: %v", err)
	}
}

// parseSecrets parses a comma-separated list of hex-encoded peppers.
// Order is load-bearing: index 0 backs every email hash (see SecretStore).
func parseSecrets(raw string) [][]byte {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			log.Printf("[config] AUTH_SECRETS: skipping malformed hex entry: %v", err)
			continue
		}
		out = append(out, b)
	}
	return out
}

func parseHex(raw string) []byte {
	if raw == "" {
		return nil
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		log.Printf("[config] malformed hex value, ignoring: %v", err)
		return nil
	}
	return b
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
