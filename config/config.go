// Package config loads the billing engine's configuration.
//
// Configuration is a single YAML file, found by (first match wins):
//   - the --config flag
//   - the BILLING_CONFIG environment variable
//   - $XDG_CONFIG_HOME/billing-engine/config.yaml
//
// Secrets are not written into the file. Values may reference the
// environment as ${VAR} or ${VAR:-default}; a .env file next to the
// config file (or in the working directory) is loaded first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"
	_ "time/tzdata"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	appName = "billing-engine"
	envPath = "BILLING_CONFIG"
)

// Config is the master configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Timezone string         `yaml:"timezone"`
	Database DatabaseConfig `yaml:"database"`

	Toggl      TogglConfig      `yaml:"toggl"`
	Contentful ContentfulConfig `yaml:"contentful"`
	Debitoor   DebitoorConfig   `yaml:"debitoor"`
	Lexoffice  LexofficeConfig  `yaml:"lexoffice"`

	// Invoicing names the invoicing system: "debitoor" or "lexoffice".
	Invoicing string `yaml:"invoicing"`

	// Directory is a JSONC directory file. When set it replaces Contentful.
	Directory string `yaml:"directory"`

	Defaults DefaultsConfig `yaml:"defaults"`

	// Concurrency bounds parallel invoice submissions.
	Concurrency int `yaml:"concurrency"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	// Path of the SQLite run ledger. ":memory:" keeps runs in memory.
	Path string `yaml:"path"`
}

type TogglConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	Workspace int64  `yaml:"workspace"`
}

type ContentfulConfig struct {
	BaseURL     string `yaml:"base_url"`
	Space       string `yaml:"space"`
	Environment string `yaml:"environment"`
	Token       string `yaml:"token"`
	Locale      string `yaml:"locale"`
}

type DebitoorConfig struct {
	BaseURL     string `yaml:"base_url"`
	LogoBaseURL string `yaml:"logo_base_url"`
	Token       string `yaml:"token"`
}

type LexofficeConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Invoicing systems.
const (
	InvoicingDebitoor  = "debitoor"
	InvoicingLexoffice = "lexoffice"
)

// DefaultsConfig holds run options used when a request leaves them out.
type DefaultsConfig struct {
	SetBilled         bool     `yaml:"set_billed"`
	LabelWhitelist    []string `yaml:"label_whitelist"`
	LabelBlacklist    []string `yaml:"label_blacklist"`
	CustomerWhitelist []string `yaml:"customer_whitelist"`
	CustomerBlacklist []string `yaml:"customer_blacklist"`
}

// Default returns the configuration every file is merged onto.
func Default() *Config {
	return &Config{
		Server:      ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
		Timezone:    "Europe/Berlin",
		Invoicing:   InvoicingDebitoor,
		Database:    DatabaseConfig{Path: filepath.Join(xdg.DataHome, appName, "billing.db")},
		Concurrency: 4,
	}
}

// DefaultPath is the config location when neither flag nor environment
// name one.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Load resolves the config path and loads it. flagPath may be empty.
// A missing file at the default location yields Default().
func Load(flagPath string) (*Config, error) {
	switch {
	case flagPath != "":
		return LoadFile(flagPath)
	case os.Getenv(envPath) != "":
		return LoadFile(os.Getenv(envPath))
	}

	cfg, err := LoadFile(DefaultPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return cfg, err
}

// LoadFile loads configuration from path.
func LoadFile(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML onto Default() and expands variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// loadDotEnv loads the .env files that exist. Variables already set in
// the environment win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"XDG_DATA_HOME":   xdg.DataHome,
		"XDG_CONFIG_HOME": xdg.ConfigHome,
	}
	for _, s := range []*string{
		&c.Timezone,
		&c.Database.Path,
		&c.Toggl.BaseURL,
		&c.Toggl.Token,
		&c.Contentful.BaseURL,
		&c.Contentful.Space,
		&c.Contentful.Environment,
		&c.Contentful.Token,
		&c.Debitoor.BaseURL,
		&c.Debitoor.LogoBaseURL,
		&c.Debitoor.Token,
		&c.Lexoffice.BaseURL,
		&c.Lexoffice.Token,
		&c.Invoicing,
		&c.Directory,
	} {
		*s = expandVars(*s, vars)
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1"))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Toggl.Token == "" {
		errs = append(errs, fmt.Errorf("toggl.token is required"))
	}
	if c.Directory == "" && (c.Contentful.Space == "" || c.Contentful.Token == "") {
		errs = append(errs, fmt.Errorf("either directory or contentful.space and contentful.token are required"))
	}
	switch c.Invoicing {
	case InvoicingDebitoor:
		if c.Debitoor.Token == "" {
			errs = append(errs, fmt.Errorf("debitoor.token is required"))
		}
	case InvoicingLexoffice:
		if c.Lexoffice.Token == "" {
			errs = append(errs, fmt.Errorf("lexoffice.token is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invoicing %q: must be %s or %s", c.Invoicing, InvoicingDebitoor, InvoicingLexoffice))
	}

	return errors.Join(errs...)
}
