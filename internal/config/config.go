package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP server
	Port        string
	CORSOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only set it when a reverse proxy in front overwrites those headers.
	TrustProxy bool

	// Database
	DBPath          string
	BackupDir       string
	BackupRetention int

	// Logging
	LogLevel  string
	LogFormat string

	// AMQP; an empty URL selects the no-op publisher
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Background jobs
	ScrapeInterval time.Duration
	NotifyInterval time.Duration

	// Rate limiting (requests per minute per client)
	RateLimit int

	SettingsPath string
	Settings     Settings
}

// Settings is the optional YAML file describing the business itself.
type Settings struct {
	Company        string         `yaml:"company"`
	Currency       string         `yaml:"currency"`
	DefaultTaxRate string         `yaml:"default_tax_rate"`
	Accounts       []AccountSeed  `yaml:"accounts"`
	ScrapeSources  []ScrapeSource `yaml:"scrape_sources"`
	DefaultWidgets []string       `yaml:"default_widgets"`
	AdminUser      AdminSeed      `yaml:"admin"`
	OverdueDays    int            `yaml:"overdue_days"`
}

type AccountSeed struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type ScrapeSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
}

type AdminSeed struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "9000"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "")),
		TrustProxy:  getEnvBool("TRUST_PROXY", false),
		DBPath:      getEnv("MILLOPS_DB", "./data/millops.db"),

		BackupDir:       getEnv("BACKUP_DIR", "./data/backups"),
		BackupRetention: getEnvInt("BACKUP_RETENTION", 14),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "millops"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "millops_notifications"),

		ScrapeInterval: getEnvDuration("SCRAPE_INTERVAL", 6*time.Hour),
		NotifyInterval: getEnvDuration("NOTIFY_INTERVAL", 15*time.Minute),

		RateLimit: getEnvInt("RATE_LIMIT", 300),

		SettingsPath: getEnv("MILLOPS_SETTINGS", ""),
		Settings:     DefaultSettings(),
	}

	if cfg.SettingsPath != "" {
		s, err := LoadSettings(cfg.SettingsPath)
		if err != nil {
			return nil, err
		}
		cfg.Settings = s
	}
	return cfg, nil
}

// DefaultSettings returns the settings used when no YAML file is configured.
func DefaultSettings() Settings {
	return Settings{
		Company:        "Mill Operations",
		Currency:       "USD",
		DefaultTaxRate: "0",
		OverdueDays:    0,
		AdminUser:      AdminSeed{Username: "admin", Password: "changeme"},
	}
}

// LoadSettings reads a YAML settings file. Fields missing from the file keep
// their defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	} else if c.DBPath != ":memory:" {
		dir := filepath.Dir(c.DBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
				}
			}
		}
	}

	for _, o := range c.CORSOrigins {
		if o == "*" {
			errors = append(errors, "invalid CORS origin '*': sessions use cookies, list each origin explicitly")
		} else if u, err := url.Parse(o); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid CORS origin '%s': must be an http(s) origin", o))
		}
	}

	if c.BackupRetention < 1 {
		errors = append(errors, fmt.Sprintf("invalid backup retention %d: must be at least 1", c.BackupRetention))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be json or console", c.LogFormat))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ScrapeInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid scrape interval %v: must be at least 1 minute", c.ScrapeInterval))
	} else if c.ScrapeInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid scrape interval %v: must be at most 7 days", c.ScrapeInterval))
	}
	if c.NotifyInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid notify interval %v: must be at least 1 minute", c.NotifyInterval))
	}

	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimit))
	}

	if c.Settings.OverdueDays < 0 {
		errors = append(errors, fmt.Sprintf("invalid overdue_days %d: must not be negative", c.Settings.OverdueDays))
	}
	if rate, err := decimal.NewFromString(c.Settings.DefaultTaxRate); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default_tax_rate '%s': must be a number", c.Settings.DefaultTaxRate))
	} else if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		errors = append(errors, fmt.Sprintf("invalid default_tax_rate %s: must be between 0 and 100", rate))
	}
	if len(c.Settings.Currency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid currency '%s': must be a 3-letter code", c.Settings.Currency))
	}
	for i, src := range c.Settings.ScrapeSources {
		if src.Name == "" {
			errors = append(errors, fmt.Sprintf("scrape source %d: name is required", i))
		}
		if u, err := url.Parse(src.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("scrape source %d: url must be http or https", i))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
