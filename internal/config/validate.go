package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ericksa/legaltriage/internal/triage"
)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Triage.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}

	// Validate address format and port
	if _, err := net.ResolveTCPAddr("tcp", c.Triage.Server.Addr); err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}

	if c.Triage.Server.Timeout != "" {
		if _, err := time.ParseDuration(c.Triage.Server.Timeout); err != nil {
			return fmt.Errorf("invalid server timeout: %v", err)
		}
	}

	// Validate LLM configuration
	llm := c.Triage.LLM
	if llm.Available() && llm.Endpoint == "" {
		return errors.New("llm endpoint cannot be empty when an api key is set")
	}
	if llm.TimeoutSecs < 0 {
		return errors.New("llm timeout_secs cannot be negative")
	}
	if !validTemperature(llm.RewriteTemperature) {
		return fmt.Errorf("llm rewrite_temperature must be between 0 and 2, got %v", llm.RewriteTemperature)
	}
	if llm.HistoryWindow < 1 {
		return errors.New("llm history_window must be positive")
	}

	// Validate audit configuration
	if c.Triage.Audit.Enabled && c.Triage.Audit.Path == "" {
		return errors.New("audit path cannot be empty when audit is enabled")
	}

	// Validate session configuration
	switch c.Triage.Session.Driver {
	case "", "sqlite3":
		if c.Triage.Session.Path == "" {
			return errors.New("session path cannot be empty for sqlite3")
		}
	case "postgres":
		if c.Triage.Session.URL == "" {
			return errors.New("session url cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported session driver: %q", c.Triage.Session.Driver)
	}

	// Validate archive configuration
	if arc := c.Triage.Archive; arc.Enabled {
		if arc.Endpoint == "" {
			return errors.New("archive endpoint cannot be empty when archive is enabled")
		}
		if arc.Bucket == "" {
			return errors.New("archive bucket cannot be empty when archive is enabled")
		}
	}

	// Validate intake configuration
	order := c.Triage.Intake.Fields()
	if len(order) == 0 {
		return errors.New("intake required_order cannot be empty")
	}
	seen := make(map[triage.Field]bool, len(order))
	for _, f := range order {
		if !f.Known() {
			return fmt.Errorf("intake required_order contains unknown field: %q", f)
		}
		if seen[f] {
			return fmt.Errorf("intake required_order contains duplicate field: %q", f)
		}
		seen[f] = true
	}

	return nil
}

func validTemperature(t float64) bool {
	return t >= 0 && t <= 2
}
