// Package config loads and validates application configuration from
// environment variables, plus the agent roster from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/servicehub/vetted/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Store settings. StoreBackend selects "memory" or "postgres" for
	// tasks and decisions; provider records always live in SQLite unless
	// ProviderDBPath is empty, in which case they stay in memory.
	StoreBackend   string
	DatabaseURL    string // Postgres URL for tasks and decisions.
	ProviderDBPath string // SQLite file holding marketplace provider records.

	// Registry settings. An empty RegistryURL selects the static
	// in-process registry seeded from RegistrySeedPath.
	RegistryURL      string
	RegistryAPIKey   string
	RegistryTimeout  time.Duration
	RegistryRPS      float64 // Rate limit for registry lookups.
	RegistryBurst    int
	RegistrySeedPath string // YAML seed entries for the static registry.

	// Agent roster.
	AgentsPath string // YAML file listing agent configurations.

	// Retry policy for transient task failures.
	RetryBudget int
	RetryBase   time.Duration
	RetryCap    time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool // Plain HTTP to the collector; local development only.
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		StoreBackend:     envStr("VETTED_STORE", "memory"),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		ProviderDBPath:   envStr("VETTED_PROVIDER_DB", "marketplace.db"),
		RegistryURL:      envStr("VETTED_REGISTRY_URL", ""),
		RegistryAPIKey:   envStr("VETTED_REGISTRY_API_KEY", ""),
		RegistryTimeout:  envDuration("VETTED_REGISTRY_TIMEOUT", 10*time.Second),
		RegistryRPS:      envFloat("VETTED_REGISTRY_RPS", 10),
		RegistryBurst:    envInt("VETTED_REGISTRY_BURST", 5),
		RegistrySeedPath: envStr("VETTED_REGISTRY_SEED", ""),
		AgentsPath:       envStr("VETTED_AGENTS", "agents.yaml"),
		RetryBudget:      envInt("VETTED_RETRY_BUDGET", 3),
		RetryBase:        envDuration("VETTED_RETRY_BASE", time.Second),
		RetryCap:         envDuration("VETTED_RETRY_CAP", 30*time.Second),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "vetted"),
		LogLevel:         envStr("VETTED_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: VETTED_STORE must be memory or postgres, got %q", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required with VETTED_STORE=postgres")
	}
	if c.AgentsPath == "" {
		return fmt.Errorf("config: VETTED_AGENTS is required")
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("config: VETTED_RETRY_BUDGET must not be negative")
	}
	if c.RetryBase <= 0 || c.RetryCap < c.RetryBase {
		return fmt.Errorf("config: retry backoff bounds invalid: base %v cap %v", c.RetryBase, c.RetryCap)
	}
	if c.RegistryRPS <= 0 || c.RegistryBurst <= 0 {
		return fmt.Errorf("config: registry rate limit must be positive")
	}
	return nil
}

// agentsFile is the on-disk shape of the agent roster.
type agentsFile struct {
	Agents []model.AgentConfig `yaml:"agents"`
}

// LoadAgents reads and validates the agent roster from a YAML file.
// Duplicate IDs and out-of-range thresholds are configuration errors.
func LoadAgents(path string) ([]model.AgentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read agents file: %w", err)
	}
	var f agentsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse agents file %s: %w", path, err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("config: agents file %s lists no agents", path)
	}

	seen := make(map[string]bool, len(f.Agents))
	for _, a := range f.Agents {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return f.Agents, nil
}

// seedFile is the on-disk shape of static registry seed entries.
type seedFile struct {
	Documents []SeedDocument `yaml:"documents"`
}

// SeedDocument is one pre-registered identity document for the static
// registry, used in development and tests.
type SeedDocument struct {
	Type       model.DocumentType `yaml:"type"`
	Number     string             `yaml:"number"`
	HolderName string             `yaml:"holder_name"`
	Phone      string             `yaml:"phone"`
}

// LoadRegistrySeed reads static registry entries from a YAML file. An empty
// path yields no entries.
func LoadRegistrySeed(path string) ([]SeedDocument, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read registry seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse registry seed %s: %w", path, err)
	}
	return f.Documents, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
