// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything the server needs at startup. Empty optional fields
// (database, redis, kafka) select the in-memory or no-op implementation.
type Config struct {
	Addr         string
	LogLevel     string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string

	// IssuingState is the ICAO code stamped into every document.
	IssuingState string

	// MinConfidence is the exit-predicate floor for automated stages.
	MinConfidence float64

	// StageBudgets overrides the published per-stage processing targets,
	// keyed by stage name. Unset stages keep their defaults.
	StageBudgets map[string]time.Duration
	// ExpeditedFactor scales every budget for expedited applications;
	// zero keeps the default.
	ExpeditedFactor float64

	// Remote validator call bounds and the circuit cool-off.
	ValidatorAttemptTimeout time.Duration
	ValidatorMaxAttempts    int
	ValidatorBackoffBase    time.Duration
	BreakerCoolOff          time.Duration

	// Validator endpoints; an empty endpoint leaves the kind unregistered
	// and the affected stages fail closed.
	PopulationRegistryURL string
	BiometricMatchURL     string
	CriminalRecordURL     string
	TravelDocDirectoryURL string

	// Public lookup rate limit per anonymized source.
	LookupRateLimit  int64
	LookupRateWindow time.Duration
}

// FromEnv reads CACHET_* variables, falling back to development defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:                  envOr("CACHET_ADDR", ":8080"),
		LogLevel:              envOr("CACHET_LOG_LEVEL", "info"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		IssuingState:          envOr("CACHET_ISSUING_STATE", "UTO"),
		MinConfidence:         envFloat("CACHET_MIN_CONFIDENCE", 0.80),
		ExpeditedFactor:       envFloat("CACHET_SLA_EXPEDITED_FACTOR", 0),

		ValidatorAttemptTimeout: envDuration("CACHET_VALIDATOR_ATTEMPT_TIMEOUT", 2*time.Second),
		ValidatorMaxAttempts:    envInt("CACHET_VALIDATOR_MAX_ATTEMPTS", 3),
		ValidatorBackoffBase:    envDuration("CACHET_VALIDATOR_BACKOFF_BASE", 100*time.Millisecond),
		BreakerCoolOff:          envDuration("CACHET_BREAKER_COOLOFF", 30*time.Second),
		PopulationRegistryURL: os.Getenv("CACHET_POPULATION_REGISTRY_URL"),
		BiometricMatchURL:     os.Getenv("CACHET_BIOMETRIC_MATCH_URL"),
		CriminalRecordURL:     os.Getenv("CACHET_CRIMINAL_RECORD_URL"),
		TravelDocDirectoryURL: os.Getenv("CACHET_TRAVEL_DOC_DIRECTORY_URL"),
		LookupRateLimit:       int64(envInt("CACHET_LOOKUP_RATE_LIMIT", 30)),
		LookupRateWindow:      envDuration("CACHET_LOOKUP_RATE_WINDOW", time.Minute),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	for _, stage := range []string{
		"draft",
		"identity_verification",
		"eligibility_check",
		"background_verification",
		"payment_processing",
		"adjudication",
		"approved",
	} {
		key := "CACHET_SLA_" + strings.ToUpper(stage)
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			continue
		}
		if cfg.StageBudgets == nil {
			cfg.StageBudgets = make(map[string]time.Duration)
		}
		cfg.StageBudgets[stage] = d
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
