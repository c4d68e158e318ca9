// Package config loads the pawnstats YAML configuration. Secrets (the API
// token, the database password) can be kept out of the file and supplied via
// the environment or a .env file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for all pawnstats commands.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Postgres PostgresConfig `yaml:"postgres"`
	Source   SourceConfig   `yaml:"source"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// SourceConfig configures the Lichess export client and the ingest filter.
type SourceConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Token     string   `yaml:"token"` // LICHESS_API_TOKEN overrides
	Users     []string `yaml:"users"`
	UserFile  string   `yaml:"user_file"` // one username per line
	Since     string   `yaml:"since"`     // RFC3339 or YYYY-MM-DD
	Until     string   `yaml:"until"`
	RatedOnly bool     `yaml:"rated_only"`
	PerfTypes []string `yaml:"perf_types"`
	PageSize  int      `yaml:"page_size"`
	TimeoutS  int      `yaml:"timeout_seconds"`
	Retries   int      `yaml:"retries"`
}

type PipelineConfig struct {
	BatchSize      int    `yaml:"batch_size"`
	Workers        int    `yaml:"workers"`
	UpsetThreshold int    `yaml:"upset_threshold"`
	BatchRetries   int    `yaml:"batch_retries"`
	Checkpoint     string `yaml:"checkpoint"`
	ECODir         string `yaml:"eco_dir"` // opening TSVs; empty disables classification
}

// Load reads the YAML config at path and applies defaults and environment
// overrides. A .env file next to the working directory is honored if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if _, err := cfg.Source.SinceTime(); err != nil {
		return nil, err
	}
	if _, err := cfg.Source.UntilTime(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 4
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://lichess.org"
	}
	if c.Source.Since == "" {
		c.Source.Since = "2020-01-01"
	}
	if len(c.Source.PerfTypes) == 0 {
		c.Source.PerfTypes = []string{"blitz", "rapid"}
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = 300
	}
	if c.Source.TimeoutS == 0 {
		c.Source.TimeoutS = 60
	}
	if c.Source.Retries == 0 {
		c.Source.Retries = 4
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 300
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.UpsetThreshold == 0 {
		c.Pipeline.UpsetThreshold = 150
	}
	if c.Pipeline.BatchRetries == 0 {
		c.Pipeline.BatchRetries = 3
	}
	if c.Pipeline.Checkpoint == "" {
		c.Pipeline.Checkpoint = "./data/checkpoint.json"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LICHESS_API_TOKEN"); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv("PAWNSTATS_DB_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
}

// ConnString returns a keyword/value connection string for pgx.
func (p *PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SinceTime parses the configured lower time bound.
func (s *SourceConfig) SinceTime() (time.Time, error) {
	return parseTimeBound(s.Since, "source.since")
}

// UntilTime parses the configured upper time bound; zero when unset.
func (s *SourceConfig) UntilTime() (time.Time, error) {
	if s.Until == "" {
		return time.Time{}, nil
	}
	return parseTimeBound(s.Until, "source.until")
}

func parseTimeBound(v, field string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: unrecognized time %q", field, v)
	}
	return t, nil
}

// Usernames returns the configured user list, reading user_file if set.
// Blank lines and #-comments in the file are skipped.
func (s *SourceConfig) Usernames() ([]string, error) {
	users := append([]string(nil), s.Users...)
	if s.UserFile != "" {
		f, err := os.Open(s.UserFile)
		if err != nil {
			return nil, fmt.Errorf("open user file: %w", err)
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			users = append(users, line)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	return users, nil
}
