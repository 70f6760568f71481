package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ericksa/legaltriage/internal/triage"
)

// Config represents the complete gateway configuration
// The structure matches the config.yaml file and can be overridden by environment variables

type Config struct {
	Triage TriageConfig `json:"triage" mapstructure:"triage"`
}

// TriageConfig contains the main gateway configuration

type TriageConfig struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Auth    AuthConfig    `json:"auth" mapstructure:"auth"`
	LLM     LLMConfig     `json:"llm" mapstructure:"llm"`
	Audit   AuditConfig   `json:"audit" mapstructure:"audit"`
	Session SessionConfig `json:"session" mapstructure:"session"`
	Archive ArchiveConfig `json:"archive" mapstructure:"archive"`
	Intake  IntakeConfig  `json:"intake" mapstructure:"intake"`
}

// ServerConfig contains server-specific configuration

type ServerConfig struct {
	Addr    string `json:"addr" mapstructure:"addr"`
	Timeout string `json:"timeout" mapstructure:"timeout"`
}

// AuthConfig contains authentication configuration. An empty token disables auth.

type AuthConfig struct {
	Token string `json:"token" mapstructure:"token"`
}

// LLMConfig contains LLM provider configuration

type LLMConfig struct {
	Provider           string  `json:"provider" mapstructure:"provider"`
	Endpoint           string  `json:"endpoint" mapstructure:"endpoint"`
	Model              string  `json:"model" mapstructure:"model"`
	APIKey             string  `json:"api_key" mapstructure:"api_key"`
	TimeoutSecs        int     `json:"timeout_secs" mapstructure:"timeout_secs"`
	RewriteTemperature float64 `json:"rewrite_temperature" mapstructure:"rewrite_temperature"`
	HistoryWindow      int     `json:"history_window" mapstructure:"history_window"`
}

// Available reports whether a model credential is configured. Extraction
// and rewriting are skipped entirely without one.
func (c LLMConfig) Available() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Timeout returns the per-request model timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AuditConfig controls the SQLite audit log

type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// SessionConfig controls the conversation store. Driver is "sqlite3" (Path)
// or "postgres" (URL).

type SessionConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	Path   string `json:"path" mapstructure:"path"`
	URL    string `json:"url" mapstructure:"url"`
}

// ArchiveConfig points at the S3-compatible bucket completed sessions are copied to

type ArchiveConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
	Prefix    string `json:"prefix" mapstructure:"prefix"`
}

// IntakeConfig controls the order fields are asked in

type IntakeConfig struct {
	RequiredOrder []string `json:"required_order" mapstructure:"required_order"`
}

// Fields returns the required order as triage fields.
func (c IntakeConfig) Fields() []triage.Field {
	out := make([]triage.Field, 0, len(c.RequiredOrder))
	for _, f := range c.RequiredOrder {
		out = append(out, triage.Field(strings.TrimSpace(f)))
	}
	return out
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env first (ignore error if not present)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.legaltriage")
	// keys are nested under "triage", so triage.llm.model reads TRIAGE_LLM_MODEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindAliases(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Resolve paths (expand ~)
	cfg.Triage.Audit.Path = resolvePath(cfg.Triage.Audit.Path)
	cfg.Triage.Session.Path = resolvePath(cfg.Triage.Session.Path)
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("triage.server.addr", ":8080")
	v.SetDefault("triage.server.timeout", "30s")

	v.SetDefault("triage.auth.token", "")

	// LLM defaults
	v.SetDefault("triage.llm.provider", "openai")
	v.SetDefault("triage.llm.endpoint", "https://api.openai.com")
	v.SetDefault("triage.llm.model", "gpt-4o-mini")
	v.SetDefault("triage.llm.api_key", "")
	v.SetDefault("triage.llm.timeout_secs", 30)
	v.SetDefault("triage.llm.rewrite_temperature", 0.6)
	v.SetDefault("triage.llm.history_window", triage.HistoryWindow)

	// Audit defaults
	v.SetDefault("triage.audit.enabled", true)
	v.SetDefault("triage.audit.path", "~/.legaltriage/audit.db")

	// Session defaults
	v.SetDefault("triage.session.driver", "sqlite3")
	v.SetDefault("triage.session.path", "~/.legaltriage/sessions.db")
	v.SetDefault("triage.session.url", "")

	// Archive defaults
	v.SetDefault("triage.archive.enabled", false)
	v.SetDefault("triage.archive.endpoint", "localhost:9000")
	v.SetDefault("triage.archive.access_key", "")
	v.SetDefault("triage.archive.secret_key", "")
	v.SetDefault("triage.archive.bucket", "triage-sessions")
	v.SetDefault("triage.archive.region", "")
	v.SetDefault("triage.archive.use_ssl", false)
	v.SetDefault("triage.archive.prefix", "sessions")

	// Intake defaults
	order := make([]string, len(triage.DefaultOrder))
	for i, f := range triage.DefaultOrder {
		order[i] = string(f)
	}
	v.SetDefault("triage.intake.required_order", order)
}

// bindAliases lets the conventional OpenAI variables configure the model.
func bindAliases(v *viper.Viper) {
	_ = v.BindEnv("triage.llm.api_key", "TRIAGE_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("triage.llm.model", "TRIAGE_LLM_MODEL", "OPENAI_MODEL")
}

// resolvePath resolves ~ to home directory and cleans the path
func resolvePath(p string) string {
	if p == "" || p == ":memory:" {
		return p
	}
	if p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return filepath.Clean(p)
}
