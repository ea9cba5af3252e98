package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL             string
	LookupURL           string
	APIKey              string
	MaxAttempts         int
	Timeout             time.Duration
	RetryBackoff        time.Duration
	RetryBackoffMax     time.Duration
	BookDelay           time.Duration
	MaxPagesPerCategory int
	DBPath              string
	ExportFile          string
	ExportFormat        string // csv or json, used only when ExportFile is set
	UserAgent           string
	RespectRobotsTxt    bool
	Verbose             bool
	MetricsAddr         string
	EnrichCacheSize     int
	EnrichRate          float64 // lookups per second, 0 disables limiting
	DedupeMaxSize       int
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://books.toscrape.com/",
		LookupURL:           "https://www.googleapis.com/books/v1/volumes",
		MaxAttempts:         5,
		Timeout:             10 * time.Second,
		RetryBackoff:        2 * time.Second,
		RetryBackoffMax:     2 * time.Second,
		BookDelay:           time.Second,
		MaxPagesPerCategory: 1000,
		DBPath:              "books.db",
		ExportFormat:        "csv",
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		EnrichCacheSize:     1024,
		DedupeMaxSize:       100000,
	}
}

// Load builds a Config from defaults, an optional dotenv file and the
// process environment. Environment variables win over the dotenv file.
func Load(dotenvPath string) (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, def)
	if err := v.BindEnv("api_key", "API_KEY", "SCRAPER_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key: %w", err)
	}

	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			v.SetConfigFile(dotenvPath)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", dotenvPath, err)
		}
	}

	cfg := &Config{
		BaseURL:             v.GetString("base_url"),
		LookupURL:           v.GetString("lookup_url"),
		APIKey:              v.GetString("api_key"),
		MaxAttempts:         v.GetInt("max_attempts"),
		Timeout:             v.GetDuration("timeout"),
		RetryBackoff:        v.GetDuration("retry_backoff"),
		RetryBackoffMax:     v.GetDuration("retry_backoff_max"),
		BookDelay:           v.GetDuration("book_delay"),
		MaxPagesPerCategory: v.GetInt("max_pages_per_category"),
		DBPath:              v.GetString("db_path"),
		ExportFile:          v.GetString("export_file"),
		ExportFormat:        strings.ToLower(v.GetString("export_format")),
		UserAgent:           v.GetString("user_agent"),
		RespectRobotsTxt:    v.GetBool("respect_robots"),
		Verbose:             v.GetBool("verbose"),
		MetricsAddr:         v.GetString("metrics_addr"),
		EnrichCacheSize:     v.GetInt("enrich_cache_size"),
		EnrichRate:          v.GetFloat64("enrich_rate"),
		DedupeMaxSize:       v.GetInt("dedupe_max_size"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("lookup_url", def.LookupURL)
	v.SetDefault("max_attempts", def.MaxAttempts)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("retry_backoff", def.RetryBackoff)
	v.SetDefault("retry_backoff_max", def.RetryBackoffMax)
	v.SetDefault("book_delay", def.BookDelay)
	v.SetDefault("max_pages_per_category", def.MaxPagesPerCategory)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("export_file", def.ExportFile)
	v.SetDefault("export_format", def.ExportFormat)
	v.SetDefault("user_agent", def.UserAgent)
	v.SetDefault("respect_robots", def.RespectRobotsTxt)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("enrich_cache_size", def.EnrichCacheSize)
	v.SetDefault("enrich_rate", def.EnrichRate)
	v.SetDefault("dedupe_max_size", def.DedupeMaxSize)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if err := validateURL("lookup URL", c.LookupURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is required (set API_KEY)")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.BookDelay < 0 {
		return fmt.Errorf("book delay cannot be negative")
	}
	if c.MaxPagesPerCategory <= 0 {
		return fmt.Errorf("max pages per category must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path cannot be empty")
	}
	if c.ExportFile != "" && c.ExportFormat != "csv" && c.ExportFormat != "json" {
		return fmt.Errorf("export format must be csv or json")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.EnrichCacheSize <= 0 {
		return fmt.Errorf("enrich cache size must be positive")
	}
	if c.EnrichRate < 0 {
		return fmt.Errorf("enrich rate cannot be negative")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
