package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. DRAWAL_DATABASE__DSN.
const EnvPrefix = "DRAWAL_"

const dateLayout = "2006-01-02"

// Config holds the application configuration
type Config struct {
	Source    SourceConfig   `yaml:"source" koanf:"source"`
	Database  DatabaseConfig `yaml:"database" koanf:"database"`
	StartDate string         `yaml:"start_date,omitempty" koanf:"start_date"` // YYYY-MM-DD
	EndDate   string         `yaml:"end_date,omitempty" koanf:"end_date"`     // YYYY-MM-DD, inclusive
	Logging   LoggingConfig  `yaml:"logging" koanf:"logging"`
	MQTT      MQTTConfig     `yaml:"mqtt,omitempty" koanf:"mqtt"`
	Metrics   MetricsConfig  `yaml:"metrics,omitempty" koanf:"metrics"`
}

// SourceConfig describes the schedule report endpoint
type SourceConfig struct {
	URL            string `yaml:"url" koanf:"url"`
	Referer        string `yaml:"referer" koanf:"referer"`
	UserAgent      string `yaml:"user_agent" koanf:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds" koanf:"timeout_seconds"`
	MaxRevision    int    `yaml:"max_revision" koanf:"max_revision"`
	MinRevision    int    `yaml:"min_revision" koanf:"min_revision"`
	RetryDelayMS   int    `yaml:"retry_delay_ms,omitempty" koanf:"retry_delay_ms"` // Pause between revision attempts
}

// DatabaseConfig selects the store. DSN wins over the discrete fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" koanf:"driver"` // "sqlite" or "postgres"
	DSN      string `yaml:"dsn,omitempty" koanf:"dsn"`
	Host     string `yaml:"host,omitempty" koanf:"host"`
	Port     int    `yaml:"port,omitempty" koanf:"port"`
	User     string `yaml:"user,omitempty" koanf:"user"`
	Password string `yaml:"password,omitempty" koanf:"password"`
	Name     string `yaml:"name,omitempty" koanf:"name"`
	SSLMode  string `yaml:"sslmode,omitempty" koanf:"sslmode"`
}

// LoggingConfig controls the status output
type LoggingConfig struct {
	Level  string `yaml:"level" koanf:"level"`   // debug, info, warn, error
	Format string `yaml:"format" koanf:"format"` // console or json
}

// MQTTConfig holds broker settings for the publish command
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" koanf:"enabled"`
	Broker      string `yaml:"broker" koanf:"broker"` // host:port
	ClientID    string `yaml:"client_id,omitempty" koanf:"client_id"`
	Username    string `yaml:"username,omitempty" koanf:"username"`
	Password    string `yaml:"password,omitempty" koanf:"password"`
	TopicPrefix string `yaml:"topic_prefix,omitempty" koanf:"topic_prefix"`
}

// MetricsConfig enables pushing run metrics to a Prometheus Pushgateway
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty" koanf:"pushgateway_url"`
	Job            string `yaml:"job,omitempty" koanf:"job"`
}

// Default returns a config with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads the config file and applies environment overrides.
// A missing file yields the defaults. The result is not validated, so
// callers can apply further overrides before calling Validate.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(configPath); err == nil {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// envKey maps DRAWAL_DATABASE__DSN to database.dsn
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	c.Source.SetDefaults()
	c.Database.SetDefaults()
	c.Logging.SetDefaults()
	c.MQTT.SetDefaults()
	if c.Metrics.Job == "" {
		c.Metrics.Job = "drawalscraper"
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt: broker is required when enabled")
	}
	start, end, err := c.DateRange()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return fmt.Errorf("start_date %s is after end_date %s", c.StartDate, c.EndDate)
	}
	return nil
}

// DateRange parses start_date and end_date. Unset dates are zero.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if c.StartDate != "" {
		if start, err = time.Parse(dateLayout, c.StartDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing start_date: %w", err)
		}
	}
	if c.EndDate != "" {
		if end, err = time.Parse(dateLayout, c.EndDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing end_date: %w", err)
		}
	}
	return start, end, nil
}

// SetDefaults reproduces the endpoint constants
func (c *SourceConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = "https://uksldc.com/ViewReportSchedule/GetDiscomData"
	}
	if c.Referer == "" {
		c.Referer = "https://uksldc.com/ViewReportSchedule/Index/GetNetSchedule"
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRevision == 0 && c.MinRevision == 0 {
		c.MaxRevision = 9
	}
}

// Validate checks the revision window
func (c SourceConfig) Validate() error {
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if c.MinRevision < 0 || c.MaxRevision < c.MinRevision {
		return fmt.Errorf("invalid revision range %d..%d", c.MaxRevision, c.MinRevision)
	}
	if c.RetryDelayMS < 0 {
		return fmt.Errorf("retry_delay_ms must not be negative")
	}
	return nil
}

// Timeout returns the per-request timeout
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between revision attempts
func (c SourceConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// SetDefaults picks a local SQLite file
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "postgres" {
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	}
	if c.Driver == "sqlite" && c.DSN == "" {
		c.DSN = "data.db"
	}
}

// Validate checks driver and connection target
func (c DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
	case "postgres":
		if c.DSN == "" && (c.Host == "" || c.Name == "") {
			return fmt.Errorf("postgres needs a dsn or host and name")
		}
	default:
		return fmt.Errorf("unknown driver %s", c.Driver)
	}
	return nil
}

// ConnString returns the DSN handed to the driver
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" || c.Driver != "postgres" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// SetDefaults applies console output at info level
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
}

// Validate checks the output format
func (c LoggingConfig) Validate() error {
	if c.Format != "console" && c.Format != "json" {
		return fmt.Errorf("unknown format %s", c.Format)
	}
	return nil
}

// SetDefaults sets the topic prefix
func (c *MQTTConfig) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "drawal_schedule"
	}
}
