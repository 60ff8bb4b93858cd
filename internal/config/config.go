// Package config loads service settings from the environment. A .env file
// in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings shared by every binary.
type Config struct {
	// DatabaseURL selects the PostgreSQL store. Empty means the in-memory
	// store, which is only suitable for development.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	HTTPPort    string `mapstructure:"PORT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	Timezone             string `mapstructure:"TIMEZONE"`
	RevertPolicy         string `mapstructure:"REVERT_POLICY"`
	LedgerMaxAttempts    int    `mapstructure:"LEDGER_MAX_ATTEMPTS"`
	SweepPageSize        int    `mapstructure:"SWEEP_PAGE_SIZE"`
	RecurrenceMaxCatchUp int    `mapstructure:"RECURRENCE_MAX_CATCH_UP"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	JobWorkers    int `mapstructure:"JOB_WORKERS"`
	JobQueueSize  int `mapstructure:"JOB_QUEUE_SIZE"`
	JobMaxRetries int `mapstructure:"JOB_MAX_RETRIES"`

	SweepSchedule  string `mapstructure:"SWEEP_SCHEDULE"`
	ExportSchedule string `mapstructure:"EXPORT_SCHEDULE"`
	BackupSchedule string `mapstructure:"BACKUP_SCHEDULE"`

	GCPProjectID    string `mapstructure:"GCP_PROJECT_ID"`
	BigQueryDataset string `mapstructure:"BIGQUERY_DATASET"`
	BackupBucket    string `mapstructure:"GCS_BACKUP_BUCKET"`
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "console",
	"TIMEZONE":                "UTC",
	"REVERT_POLICY":           string(ledger.RevertWhenApplied),
	"LEDGER_MAX_ATTEMPTS":     ledger.DefaultMaxAttempts,
	"SWEEP_PAGE_SIZE":         500,
	"RECURRENCE_MAX_CATCH_UP": 24,
	"CORS_ALLOWED_ORIGINS":    "*",
	"AMQP_EXCHANGE":           "ledger_events",
	"JOB_WORKERS":             4,
	"JOB_QUEUE_SIZE":          100,
	"JOB_MAX_RETRIES":         3,
	"SWEEP_SCHEDULE":          "*/15 * * * *", // every 15 minutes
	"EXPORT_SCHEDULE":         "0 3 * * *",    // 03:00 daily
	"BACKUP_SCHEDULE":         "",
	"BIGQUERY_DATASET":        "finance_ledger",
}

// Load reads .env (if any) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	for _, key := range keys() {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func keys() []string {
	return []string{
		"DATABASE_URL", "PORT", "LOG_LEVEL", "LOG_FORMAT", "TIMEZONE",
		"REVERT_POLICY", "LEDGER_MAX_ATTEMPTS", "SWEEP_PAGE_SIZE", "RECURRENCE_MAX_CATCH_UP",
		"JWT_SECRET", "JWT_ISSUER", "CORS_ALLOWED_ORIGINS", "AMQP_URL", "AMQP_EXCHANGE",
		"JOB_WORKERS", "JOB_QUEUE_SIZE", "JOB_MAX_RETRIES",
		"SWEEP_SCHEDULE", "EXPORT_SCHEDULE", "BACKUP_SCHEDULE",
		"GCP_PROJECT_ID", "BIGQUERY_DATASET", "GCS_BACKUP_BUCKET",
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ledger.ParseRevertPolicy(c.RevertPolicy); err != nil {
		errs = append(errs, fmt.Errorf("REVERT_POLICY: %w", err))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
		}
	}
	if c.SweepPageSize < 1 || c.SweepPageSize > store.MaxPageSize {
		errs = append(errs, fmt.Errorf("SWEEP_PAGE_SIZE must be between 1 and %d", store.MaxPageSize))
	}
	if c.LedgerMaxAttempts < 1 {
		errs = append(errs, errors.New("LEDGER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RecurrenceMaxCatchUp < 1 {
		errs = append(errs, errors.New("RECURRENCE_MAX_CATCH_UP must be at least 1"))
	}
	if c.JobWorkers < 1 || c.JobQueueSize < 1 {
		errs = append(errs, errors.New("JOB_WORKERS and JOB_QUEUE_SIZE must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireAuth fails when the API cannot verify tokens.
func (c *Config) RequireAuth() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	return nil
}

// Location is the zone calendar days are computed in.
func (c *Config) Location() *time.Location {
	return dates.LoadLocation(c.Timezone)
}

// Policy returns the parsed revert policy.
func (c *Config) Policy() ledger.RevertPolicy {
	p, err := ledger.ParseRevertPolicy(c.RevertPolicy)
	if err != nil {
		return ledger.RevertWhenApplied
	}
	return p
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// UseMemoryStore reports whether no database is configured.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

// AnalyticsEnabled reports whether BigQuery export is configured.
func (c *Config) AnalyticsEnabled() bool {
	return c.GCPProjectID != "" && c.BigQueryDataset != ""
}

// BackupsEnabled reports whether a backup bucket is configured.
func (c *Config) BackupsEnabled() bool {
	return c.BackupBucket != ""
}
