// Package config loads explorer settings from defaults, an optional YAML
// file, a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int      `yaml:"port"`
	LedgerURL      string   `yaml:"ledger_url"`
	LedgerToken    string   `yaml:"ledger_token"`
	LedgerDSN      string   `yaml:"ledger_dsn"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AdminToken     string   `yaml:"admin_token"`
	LogLevel       string   `yaml:"log_level"`
	Development    bool     `yaml:"development"`

	Pagination Pagination `yaml:"pagination"`
	Mirror     Mirror     `yaml:"mirror"`
	Refresh    Refresh    `yaml:"refresh"`
	Query      Query      `yaml:"query"`
}

type Pagination struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

type Mirror struct {
	MaxBlocks int `yaml:"max_blocks"`
}

type Refresh struct {
	BlockInterval   time.Duration `yaml:"block_interval"`
	DomainInterval  time.Duration `yaml:"domain_interval"`
	AccountInterval time.Duration `yaml:"account_interval"`
	BlockBatchSize  int           `yaml:"block_batch_size"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
}

type Query struct {
	ColdFetchTimeout time.Duration `yaml:"cold_fetch_timeout"`
	PointRetries     int           `yaml:"point_retries"`
	LedgerTimeout    time.Duration `yaml:"ledger_timeout"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Port:           5200,
		AllowedOrigins: []string{"http://localhost:3000"},
		LogLevel:       "info",
		Pagination: Pagination{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Mirror: Mirror{MaxBlocks: 10000},
		Refresh: Refresh{
			BlockInterval:   5 * time.Second,
			DomainInterval:  30 * time.Second,
			AccountInterval: 30 * time.Second,
			BlockBatchSize:  50,
			BackoffInitial:  time.Second,
			BackoffMax:      time.Minute,
		},
		Query: Query{
			ColdFetchTimeout: 5 * time.Second,
			PointRetries:     2,
			LedgerTimeout:    30 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// CONFIG_FILE is consulted; a missing .env file is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.int("PORT", &c.Port)
	e.str("LEDGER_URL", &c.LedgerURL)
	e.str("LEDGER_TOKEN", &c.LedgerToken)
	e.str("LEDGER_DSN", &c.LedgerDSN)
	e.str("ADMIN_TOKEN", &c.AdminToken)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.bool("DEVELOPMENT", &c.Development)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = splitOrigins(v)
	}

	e.int("DEFAULT_PAGE_SIZE", &c.Pagination.DefaultPageSize)
	e.int("MAX_PAGE_SIZE", &c.Pagination.MaxPageSize)
	e.int("MAX_MIRRORED_BLOCKS", &c.Mirror.MaxBlocks)

	e.duration("BLOCK_REFRESH_INTERVAL", &c.Refresh.BlockInterval)
	e.duration("DOMAIN_REFRESH_INTERVAL", &c.Refresh.DomainInterval)
	e.duration("ACCOUNT_REFRESH_INTERVAL", &c.Refresh.AccountInterval)
	e.int("BLOCK_BATCH_SIZE", &c.Refresh.BlockBatchSize)
	e.duration("BACKOFF_INITIAL", &c.Refresh.BackoffInitial)
	e.duration("BACKOFF_MAX", &c.Refresh.BackoffMax)

	e.duration("COLD_FETCH_TIMEOUT", &c.Query.ColdFetchTimeout)
	e.int("POINT_RETRIES", &c.Query.PointRetries)
	e.duration("LEDGER_TIMEOUT", &c.Query.LedgerTimeout)

	return errors.Join(e.errs...)
}

// Validate rejects settings the explorer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.LedgerURL == "" && c.LedgerDSN == "" {
		errs = append(errs, errors.New("either LEDGER_URL or LEDGER_DSN must be set"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Pagination.MaxPageSize <= 0 {
		errs = append(errs, errors.New("max page size must be positive"))
	}
	if c.Pagination.DefaultPageSize <= 0 || c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		errs = append(errs, fmt.Errorf("default page size %d must be in 1..%d", c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize))
	}
	if c.Mirror.MaxBlocks < 0 {
		errs = append(errs, errors.New("max mirrored blocks cannot be negative"))
	}
	for name, d := range map[string]time.Duration{
		"block refresh interval":   c.Refresh.BlockInterval,
		"domain refresh interval":  c.Refresh.DomainInterval,
		"account refresh interval": c.Refresh.AccountInterval,
		"initial backoff":          c.Refresh.BackoffInitial,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Refresh.BackoffMax < c.Refresh.BackoffInitial {
		errs = append(errs, errors.New("max backoff must not be below the initial backoff"))
	}
	if c.Refresh.BlockBatchSize <= 0 {
		errs = append(errs, errors.New("block batch size must be positive"))
	}
	if c.Query.PointRetries < 0 {
		errs = append(errs, errors.New("point retries cannot be negative"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func splitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
