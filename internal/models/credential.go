package models

import (
	"fmt"
	"time"
)

// Credential is the access credential held by the client together with the
// refresh credential it was issued with.
type Credential struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is decoded from the access token claims. It is the zero time when
	// the claims could not be decoded.
	ExpiresAt time.Time
}

func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

func (c Credential) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Same is true when both credentials carry the same tokens.
func (c Credential) Same(other Credential) bool {
	return c.AccessToken == other.AccessToken && c.RefreshToken == other.RefreshToken
}

// WithRefreshFallback keeps the current refresh token when a renewal response did
// not rotate it.
func (c Credential) WithRefreshFallback(previous Credential) Credential {
	if c.RefreshToken == "" {
		c.RefreshToken = previous.RefreshToken
	}
	return c
}

// String implements the Stringer interface for printing the credential in logs
func (c Credential) String() string {
	return fmt.Sprintf(
		"Credential<AccessToken: redacted, RefreshToken: %s, ExpiresAt: %s>",
		redacted(c.RefreshToken),
		c.ExpiresAt,
	)
}

func redacted(value string) string {
	if value == "" {
		return "none"
	}
	return "redacted"
}
