package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Credentials and endpoints come
// from environment variables (a .env file is honored for local dev);
// tuning knobs additionally accept overrides from an optional YAML file
// pointed at by CONFIG_FILE.
type Config struct {
	ChainRPCURL      string
	DataDir          string
	Port             string
	TokenContract    string
	FacilitatorAddr  string
	BasenameRegistry string
	ReputationAddr   string
	GitHubToken      string
	AdminToken       string
	PublisherKey     string

	Tuning Tuning
}

// Tuning holds the knobs the YAML file may override.
type Tuning struct {
	MicropayCeiling     float64       `yaml:"micropayCeiling"`      // USD-equivalent settlement ceiling
	BackfillBlocks      uint64        `yaml:"backfillBlocks"`       // cold-start backfill offset
	CatchupCeiling      uint64        `yaml:"catchupCeiling"`       // skip-to-tip distance
	MicropayChunk       uint64        `yaml:"micropayChunk"`        // blocks per log query
	TransferChunk       uint64        `yaml:"transferChunk"`        // smaller chunks for the generic indexer
	AuthLookupSkip      int           `yaml:"authLookupSkip"`       // per-tx sender filter skipped above this
	RetentionDays       int           `yaml:"retentionDays"`        // raw transfer retention
	ComputeTimeout      time.Duration `yaml:"computeTimeout"`       // synchronous score compute
	RefreshConcurrency  int           `yaml:"refreshConcurrency"`   // global background refresh cap
	RPCRetryDelay       time.Duration `yaml:"rpcRetryDelay"`
	PublishMinConf      float64       `yaml:"publishMinConfidence"`
	PublishMinDelta     int           `yaml:"publishMinDelta"`
	PublishBatch        int           `yaml:"publishBatch"`
	PublishTxDelay      time.Duration `yaml:"publishTxDelay"`
	PublishBalanceFloor float64       `yaml:"publishBalanceFloor"` // native units
	WebhookMaxAttempts  int           `yaml:"webhookMaxAttempts"`
	FreeTierDaily       int           `yaml:"freeTierDaily"`
	ShutdownTimeout     time.Duration `yaml:"shutdownTimeout"`
}

// DefaultTuning returns the baseline knob values.
func DefaultTuning() Tuning {
	return Tuning{
		MicropayCeiling:     1.0,
		BackfillBlocks:      90_000,
		CatchupCeiling:      250_000,
		MicropayChunk:       2_000,
		TransferChunk:       500,
		AuthLookupSkip:      100,
		RetentionDays:       180,
		ComputeTimeout:      75 * time.Second,
		RefreshConcurrency:  5,
		RPCRetryDelay:       30 * time.Second,
		PublishMinConf:      0.5,
		PublishMinDelta:     5,
		PublishBatch:        20,
		PublishTxDelay:      2 * time.Second,
		PublishBalanceFloor: 0.001,
		WebhookMaxAttempts:  3,
		FreeTierDaily:       10,
		ShutdownTimeout:     10 * time.Second,
	}
}

// Load assembles the configuration from the environment plus the optional
// YAML override file.
func Load() (*Config, error) {
	// Best effort; a missing .env is normal outside local dev.
	_ = godotenv.Load()

	cfg := &Config{
		ChainRPCURL:      requireEnv("CHAIN_RPC_URL"),
		DataDir:          getEnvOrDefault("DATA_DIR", "data"),
		Port:             getEnvOrDefault("PORT", "5340"),
		TokenContract:    getEnvOrDefault("USDC_CONTRACT", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		FacilitatorAddr:  os.Getenv("FACILITATOR_ADDRESS"),
		BasenameRegistry: os.Getenv("BASENAME_REGISTRY"),
		ReputationAddr:   os.Getenv("REPUTATION_CONTRACT"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		AdminToken:       os.Getenv("ADMIN_AUTH_TOKEN"),
		PublisherKey:     os.Getenv("PUBLISHER_KEY"),
		Tuning:           DefaultTuning(),
	}

	if v := os.Getenv("MICROPAY_CEILING_USD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MICROPAY_CEILING_USD: %w", err)
		}
		cfg.Tuning.MicropayCeiling = f
	}
	if v := os.Getenv("BACKFILL_BLOCKS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("BACKFILL_BLOCKS: %w", err)
		}
		cfg.Tuning.BackfillBlocks = n
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RETENTION_DAYS: %w", err)
		}
		cfg.Tuning.RetentionDays = n
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyYAML(path, &cfg.Tuning); err != nil {
			return nil, err
		}
		log.Printf("[Config] Applied tuning overrides from %s", path)
	}

	if cfg.AdminToken != "" && len(cfg.AdminToken) < 32 && os.Getenv("GIN_MODE") == "release" {
		return nil, fmt.Errorf("ADMIN_AUTH_TOKEN must be at least 32 chars in release mode")
	}

	return cfg, nil
}

func applyYAML(path string, t *Tuning) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, t); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// requireEnv reads a required environment variable and exits if it is not
// set. This prevents the binary from starting with missing critical
// configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values.", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
