package secrets

import (
	"fmt"
	"regexp"
)

// DefaultRedactionString replaces each detected secret.
const DefaultRedactionString = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// RedactionString is the replacement for detected secrets (default: "[REDACTED]")
	RedactionString string `koanf:"redaction_string"`

	// AllowList holds content patterns that are never redacted.
	AllowList []string `koanf:"allow_list"`
}

// DefaultConfig returns an enabled configuration with an empty allow list.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RedactionString: DefaultRedactionString,
	}
}

// ApplyDefaults fills an empty redaction string.
func (c *Config) ApplyDefaults() {
	if c.RedactionString == "" {
		c.RedactionString = DefaultRedactionString
	}
}

// Validate checks that every allow list pattern compiles.
func (c Config) Validate() error {
	_, err := c.compileAllowList()
	return err
}

func (c Config) compileAllowList() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		out = append(out, re)
	}
	return out, nil
}
