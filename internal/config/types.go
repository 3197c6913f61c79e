package config

import (
	"encoding/json"
	"errors"
)

const masked = "[REDACTED]"

// errMaskedSecret rejects a masked placeholder fed back in as a value,
// which happens when a dumped configuration is loaded again.
var errMaskedSecret = errors.New("secret holds the masked placeholder, not a value")

// Secret is a string that never prints. Every formatting and marshaling
// path yields a placeholder; only Value returns the content.
type Secret string

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) placeholder() string {
	if s == "" {
		return ""
	}
	return masked
}

func (s Secret) String() string { return s.placeholder() }

func (s Secret) GoString() string { return "config.Secret(" + masked + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.placeholder()), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.placeholder()) }

func (s Secret) MarshalYAML() (any, error) { return s.placeholder(), nil }

// UnmarshalText accepts the raw value. koanf decodes env vars and files
// through it.
func (s *Secret) UnmarshalText(text []byte) error {
	if string(text) == masked {
		return errMaskedSecret
	}
	*s = Secret(text)
	return nil
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}
