package config

import (
	"fmt"
	"time"
)

type MirrorConfig struct {
	Cookie CookieMirrorConfig
	Redis  RedisMirrorConfig
}

type CookieMirrorConfig struct {
	Enabled              bool
	AccessCookieName     string
	RefreshIndicatorName string
	RefreshIndicatorTTL  time.Duration
	Secure               bool
}

type RedisMirrorConfig struct {
	Enabled   bool
	KeyPrefix string
	ClientID  string
	// RefreshIndicatorTTL of zero keeps the indicator until the credential is cleared
	RefreshIndicatorTTL time.Duration
	Encryption          EncryptionConfig
}

type EncryptionConfig struct {
	Enabled   bool
	SecretKey RedactedString
}

func (c *MirrorConfig) Validate() error {
	if c.Cookie.Enabled {
		if c.Cookie.AccessCookieName == "" || c.Cookie.RefreshIndicatorName == "" {
			return fmt.Errorf("the cookie mirror needs both cookie names")
		}
		if c.Cookie.RefreshIndicatorTTL <= 0 {
			return fmt.Errorf("the refresh indicator TTL has to be positive")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.ClientID == "" {
			return fmt.Errorf("the redis mirror needs a client ID")
		}
		if c.Redis.RefreshIndicatorTTL < 0 {
			return fmt.Errorf("the refresh indicator TTL cannot be negative")
		}
	}
	if c.Redis.Encryption.Enabled && len(c.Redis.Encryption.SecretKey) != 32 {
		return fmt.Errorf(
			"mirror encryption key has to be 32 bytes long, the provided one is %d long",
			len(c.Redis.Encryption.SecretKey),
		)
	}
	return nil
}
