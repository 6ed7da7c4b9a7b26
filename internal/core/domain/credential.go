package domain

import (
	"log/slog"
)

const redactedPlaceholder = "[redacted]"

// Credential holds proxy authentication secrets. The zero value is unusable;
// construct via NewCredential. Every textual rendering path (fmt verbs, slog,
// JSON) yields a redacted placeholder so credentials cannot leak into logs,
// errors or persisted records by accident. Cleartext is only reachable through
// the explicit Username/Password accessors.
type Credential struct {
	username string
	password string
}

func NewCredential(username, password string) *Credential {
	if username == "" && password == "" {
		return nil
	}
	return &Credential{username: username, password: password}
}

func (c *Credential) Username() string {
	if c == nil {
		return ""
	}
	return c.username
}

func (c *Credential) Password() string {
	if c == nil {
		return ""
	}
	return c.password
}

// Equal compares credentials without leaking either side.
func (c *Credential) Equal(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.username == other.username && c.password == other.password
}

func (c *Credential) String() string {
	return redactedPlaceholder
}

// GoString keeps %#v from dumping struct fields.
func (c *Credential) GoString() string {
	return redactedPlaceholder
}

// LogValue satisfies slog.LogValuer so a credential passed as a log attribute
// renders redacted.
func (c *Credential) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// MarshalJSON makes accidental serialisation safe; the cache layer never uses
// this path (it seals credentials with the AEAD codec instead).
func (c *Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}
