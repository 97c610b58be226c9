package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	MetricStore MetricStoreConfig `mapstructure:"metric_store"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	Mode            string   `mapstructure:"mode"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig controls the rotating file sink
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AlertingConfig contains scheduler cadences and evaluation limits.
// Durations are parsed with time.ParseDuration.
type AlertingConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	MinEvaluationInterval string `mapstructure:"min_evaluation_interval"`
	EscalationInterval    string `mapstructure:"escalation_interval"`
	DeliveryScanInterval  string `mapstructure:"delivery_scan_interval"`
	EvaluationTimeout     string `mapstructure:"evaluation_timeout"`
	MaxConcurrentEvals    int    `mapstructure:"max_concurrent_evals"`
	Timezone              string `mapstructure:"timezone"`
	HistoryRetention      string `mapstructure:"history_retention"`
	SeedFile              string `mapstructure:"seed_file"`
}

// MetricStoreConfig points the evaluator at the time-series table it reads
type MetricStoreConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	MetricColumn   string `mapstructure:"metric_column"`
	ScopeColumn    string `mapstructure:"scope_column"`
	ValueColumn    string `mapstructure:"value_column"`
	TimeColumn     string `mapstructure:"time_column"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type NotifyConfig struct {
	SendTimeout string        `mapstructure:"send_timeout"`
	SMTP        SMTPConfig    `mapstructure:"smtp"`
	NATS        NATSConfig    `mapstructure:"nats"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type NATSConfig struct {
	URL       string `mapstructure:"url"`
	JetStream bool   `mapstructure:"jetstream"`
}

type WebhookConfig struct {
	UserAgent string `mapstructure:"user_agent"`
}

type MonitoringConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricPrefix string `mapstructure:"metric_prefix"`
}

// Load reads configuration from path (or ./configs/config.yaml, ./config.yaml
// when path is empty), environment variables and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("PMA_ALERTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets and common overrides
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.path", "DATABASE_PATH")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("metric_store.dsn", "METRIC_STORE_DSN")
	v.BindEnv("notify.smtp.password", "SMTP_PASSWORD")
	v.BindEnv("notify.nats.url", "NATS_URL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration for completeness and correctness
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	if c.Database.Path == "" {
		errors = append(errors, "database.path is required")
	}

	if c.Auth.Enabled && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "your-secret-key-here") {
		errors = append(errors, "auth.jwt_secret must be set to a secure value when enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errors = append(errors, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Logging.File.Enabled && c.Logging.File.Path == "" {
		errors = append(errors, "logging.file.path is required when file logging is enabled")
	}

	durations := map[string]string{
		"alerting.min_evaluation_interval": c.Alerting.MinEvaluationInterval,
		"alerting.escalation_interval":     c.Alerting.EscalationInterval,
		"alerting.delivery_scan_interval":  c.Alerting.DeliveryScanInterval,
		"alerting.evaluation_timeout":      c.Alerting.EvaluationTimeout,
		"notify.send_timeout":              c.Notify.SendTimeout,
		"server.shutdown_timeout":          c.Server.ShutdownTimeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: invalid duration %q", key, value))
			continue
		}
		if d <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be greater than 0", key))
		}
	}
	if c.Alerting.HistoryRetention != "" {
		if _, err := time.ParseDuration(c.Alerting.HistoryRetention); err != nil {
			errors = append(errors, fmt.Sprintf("alerting.history_retention: invalid duration %q", c.Alerting.HistoryRetention))
		}
	}
	if c.Alerting.MaxConcurrentEvals <= 0 {
		errors = append(errors, "alerting.max_concurrent_evals must be greater than 0")
	}
	if _, err := time.LoadLocation(c.Alerting.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("alerting.timezone %q is not a valid location", c.Alerting.Timezone))
	}

	switch c.MetricStore.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		errors = append(errors, fmt.Sprintf("metric_store.driver %q must be one of sqlite3, postgres, mysql", c.MetricStore.Driver))
	}
	if c.MetricStore.Driver != "sqlite3" && c.MetricStore.DSN == "" {
		errors = append(errors, "metric_store.dsn is required for non-sqlite drivers")
	}
	if c.MetricStore.Table == "" {
		errors = append(errors, "metric_store.table is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a validated duration string, returning fallback when the
// value is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Location resolves the alerting timezone, defaulting to UTC.
func (c AlertingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3020)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.path", "./data/alerting.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.auto_migrate", true)

	// Auth defaults
	v.SetDefault("auth.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "./data/logs/alerting.log")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 7)
	v.SetDefault("logging.file.compress", true)

	// Alerting defaults
	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.min_evaluation_interval", "10s")
	v.SetDefault("alerting.escalation_interval", "30s")
	v.SetDefault("alerting.delivery_scan_interval", "15s")
	v.SetDefault("alerting.evaluation_timeout", "10s")
	v.SetDefault("alerting.max_concurrent_evals", 10)
	v.SetDefault("alerting.timezone", "UTC")
	v.SetDefault("alerting.history_retention", "720h")
	v.SetDefault("alerting.seed_file", "")

	// Metric store defaults
	v.SetDefault("metric_store.driver", "sqlite3")
	v.SetDefault("metric_store.dsn", "")
	v.SetDefault("metric_store.table", "storage_metrics")
	v.SetDefault("metric_store.metric_column", "metric_type")
	v.SetDefault("metric_store.scope_column", "scope")
	v.SetDefault("metric_store.value_column", "value")
	v.SetDefault("metric_store.time_column", "recorded_at")
	v.SetDefault("metric_store.max_connections", 5)

	// Notification defaults
	v.SetDefault("notify.send_timeout", "10s")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.nats.jetstream", false)
	v.SetDefault("notify.webhook.user_agent", "pma-alerting")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metric_prefix", "pma_alerting")
}
