// config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers understood by Load.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverREST     = "rest"
	StoreDriverMemory   = "memory"
)

// RankedRules holds every tunable threshold of the ranked pipeline.
// Zero values are never used directly; DefaultRules supplies the baseline.
type RankedRules struct {
	MinPlayers             int           `yaml:"min_players"`
	MaxAttempts            int           `yaml:"max_attempts"`
	QueueTimeout           time.Duration `yaml:"queue_timeout"`
	KFactor                float64       `yaml:"k_factor"`
	BanWinProbability      float64       `yaml:"ban_win_probability"`
	MaxConsecutiveOpponent int           `yaml:"max_consecutive_opponent"`
	DefaultElo             int           `yaml:"default_elo"`
	SyntheticScoreSpread   float64       `yaml:"synthetic_score_spread"`
	PerformanceWeight      float64       `yaml:"performance_weight"`
	MinPasswordLength      int           `yaml:"min_password_length"`
}

// DefaultRules returns the production thresholds.
func DefaultRules() RankedRules {
	return RankedRules{
		MinPlayers:             2,
		MaxAttempts:            5,
		QueueTimeout:           time.Hour,
		KFactor:                32,
		BanWinProbability:      0.25,
		MaxConsecutiveOpponent: 5,
		DefaultElo:             1000,
		SyntheticScoreSpread:   0.10,
		PerformanceWeight:      0.5,
		MinPasswordLength:      4,
	}
}

// Validate rejects rule sets the pipeline cannot run with.
func (r RankedRules) Validate() error {
	var errs []error
	if r.MinPlayers < 2 {
		errs = append(errs, fmt.Errorf("min_players must be at least 2, got %d", r.MinPlayers))
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be positive, got %d", r.MaxAttempts))
	}
	if r.QueueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("queue_timeout must be positive, got %s", r.QueueTimeout))
	}
	if r.KFactor <= 0 {
		errs = append(errs, fmt.Errorf("k_factor must be positive, got %v", r.KFactor))
	}
	if r.BanWinProbability < 0 || r.BanWinProbability > 1 {
		errs = append(errs, fmt.Errorf("ban_win_probability must be within [0,1], got %v", r.BanWinProbability))
	}
	if r.MaxConsecutiveOpponent < 1 {
		errs = append(errs, fmt.Errorf("max_consecutive_opponent must be positive, got %d", r.MaxConsecutiveOpponent))
	}
	if r.SyntheticScoreSpread < 0 || r.SyntheticScoreSpread >= 1 {
		errs = append(errs, fmt.Errorf("synthetic_score_spread must be within [0,1), got %v", r.SyntheticScoreSpread))
	}
	if r.MinPasswordLength < 1 {
		errs = append(errs, fmt.Errorf("min_password_length must be positive, got %d", r.MinPasswordLength))
	}
	return errors.Join(errs...)
}

// Config is the full runtime configuration of the service.
type Config struct {
	ListenAddr   string
	StoreDriver  string
	DatabaseURL  string
	StoreURL     string
	StoreKey     string
	StoreRPS     float64
	SecretKey    string
	ServiceToken string
	SweepEvery   time.Duration

	Archive ArchiveConfig
	Rules   RankedRules
}

// ArchiveConfig points at an S3-compatible bucket (Cloudflare R2 in production).
// Archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
}

// Enabled reports whether tournament archiving should be wired.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads .env (if present), the environment and the optional rules file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests do not touch the process env.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		ListenAddr:   valueOr(getenv("LISTEN_ADDR"), ":5200"),
		StoreDriver:  strings.ToLower(valueOr(getenv("STORE_DRIVER"), StoreDriverPostgres)),
		DatabaseURL:  getenv("DATABASE_URL"),
		StoreURL:     strings.TrimRight(getenv("STORE_URL"), "/"),
		StoreKey:     getenv("STORE_SERVICE_KEY"),
		SecretKey:    getenv("PASSWORD_ENCRYPTION_KEY"),
		ServiceToken: getenv("SERVICE_TOKEN"),
		Archive: ArchiveConfig{
			AccountID:       getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          getenv("R2_BUCKET_NAME"),
			Endpoint:        getenv("R2_ENDPOINT"),
		},
		Rules: DefaultRules(),
	}

	rps, err := floatOr(getenv("STORE_RPS"), 20)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_RPS: %w", err)
	}
	cfg.StoreRPS = rps

	sweep, err := durationOr(getenv("SWEEP_INTERVAL"), 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	cfg.SweepEvery = sweep

	if path := getenv("RANKED_RULES_FILE"); path != "" {
		rules, err := LoadRules(path)
		if err != nil {
			return nil, err
		}
		cfg.Rules = rules
	}

	return cfg, nil
}

// LoadRules overlays the YAML file at path on top of DefaultRules.
func LoadRules(path string) (RankedRules, error) {
	rules := DefaultRules()
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate checks everything the submission handler needs before the server starts.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("PASSWORD_ENCRYPTION_KEY environment variable not set"))
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL environment variable not set"))
		}
	case StoreDriverREST:
		if c.StoreURL == "" || c.StoreKey == "" {
			errs = append(errs, errors.New("STORE_URL and STORE_SERVICE_KEY must be set for the rest store"))
		}
		if c.StoreRPS <= 0 {
			errs = append(errs, errors.New("STORE_RPS must be positive"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if err := c.Rules.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func floatOr(v string, fallback float64) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func durationOr(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}
