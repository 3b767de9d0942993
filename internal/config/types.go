package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/SPCG-NEST/daemon/internal/secrets"
)

// Duration is a time.Duration that decodes from "30s"-style strings in YAML
// and DAEMON_* variables. Negative values are rejected.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential. Every printed or encoded form is redacted;
// call Value to read it.
type Secret string

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return secrets.DefaultRedactionString
}

// String implements fmt.Stringer, so zap.Stringer and %v stay redacted.
func (s Secret) String() string { return s.redacted() }

// GoString covers %#v.
func (s Secret) GoString() string { return "config.Secret(" + s.redacted() + ")" }

// MarshalJSON keeps secrets out of config dumps.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.redacted()) }

// MarshalText keeps secrets out of text encodings.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.redacted()), nil }

// UnmarshalText accepts the raw value.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the raw credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a value is present.
func (s Secret) IsSet() bool { return s != "" }
