package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration. FromEnv keeps main lean.
type Server struct {
	Addr          string
	JWTSigningKey string

	// SeedAdmins are the bootstrap Admin identities installed before the
	// server accepts traffic. Role registration requires an existing Admin,
	// so at least one seed must be configured.
	SeedAdmins []string

	// ProofTimeout bounds a single call into the external proof verifier.
	ProofTimeout time.Duration

	// TrustedProofKeys restricts proof acceptance to envelopes signed by
	// these base64 (raw URL) encoded Ed25519 public keys. Empty means any
	// well-formed envelope passes.
	TrustedProofKeys []string

	// IdempotencyTTL bounds how long committed request ids are remembered
	// for retry deduplication.
	IdempotencyTTL time.Duration

	// Optional backing services. Empty values select in-memory stores.
	DatabaseURL  string
	RedisAddr    string
	KafkaBrokers []string
	AuditTopic   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:           getenv("MEDVAULT_ADDR", ":8080"),
		JWTSigningKey:  getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ProofTimeout:   getDuration("MEDVAULT_PROOF_TIMEOUT", 5*time.Second),
		IdempotencyTTL: getDuration("MEDVAULT_IDEMPOTENCY_TTL", 24*time.Hour),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		AuditTopic:     getenv("MEDVAULT_AUDIT_TOPIC", "medvault.audit"),
	}
	if seeds := os.Getenv("MEDVAULT_SEED_ADMINS"); seeds != "" {
		for _, s := range strings.Split(seeds, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.SeedAdmins = append(cfg.SeedAdmins, s)
			}
		}
	}
	if keys := os.Getenv("MEDVAULT_TRUSTED_PROOF_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.TrustedProofKeys = append(cfg.TrustedProofKeys, k)
			}
		}
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
