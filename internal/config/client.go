package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ClientConfig struct {
	BaseURL *url.URL
	// RefreshPath is the path of the credential renewal endpoint relative to BaseURL
	RefreshPath string
	// AuthEndpoints are path prefixes of authentication endpoints, a 401 from
	// these never triggers a refresh
	AuthEndpoints  []string
	RequestTimeout time.Duration
	Refresh        RefreshConfig
	RateLimits     RateLimits
}

type RefreshConfig struct {
	Timeout           time.Duration
	TransientCooldown time.Duration
	TerminalCooldown  time.Duration
	Proactive         ProactiveRefreshConfig
	OAuth2            OAuth2Config
}

type ProactiveRefreshConfig struct {
	Enabled      bool
	Interval     time.Duration
	ExpiryMargin time.Duration
}

// OAuth2Config switches the refresh call to a standard refresh_token grant
type OAuth2Config struct {
	Enabled      bool
	TokenURL     string
	ClientID     string
	ClientSecret RedactedString
	Scopes       []string
}

func (c *ClientConfig) Validate() error {
	if c.BaseURL == nil {
		return fmt.Errorf("the client config is missing the base URL of the backend")
	}
	for _, endpoint := range c.AuthEndpoints {
		if !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("authentication endpoint %q has to start with /", endpoint)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("the request timeout cannot be negative")
	}
	if c.RateLimits.Enabled && (c.RateLimits.Rate <= 0 || c.RateLimits.Burst <= 0) {
		return fmt.Errorf("rate limits need a positive rate and burst when enabled")
	}
	return c.Refresh.Validate()
}

func (c *RefreshConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("the refresh timeout has to be positive, got %s", c.Timeout)
	}
	if c.TransientCooldown < 0 || c.TerminalCooldown < 0 {
		return fmt.Errorf("refresh cooldowns cannot be negative")
	}
	if c.Proactive.Enabled {
		if c.Proactive.Interval <= 0 {
			return fmt.Errorf("the proactive refresh interval has to be positive")
		}
		if c.Proactive.ExpiryMargin <= 0 {
			return fmt.Errorf("the proactive refresh expiry margin has to be positive")
		}
	}
	if c.OAuth2.Enabled {
		if c.OAuth2.TokenURL == "" {
			return fmt.Errorf("the oauth2 refresh grant needs a token URL")
		}
		if c.OAuth2.ClientID == "" {
			return fmt.Errorf("the oauth2 refresh grant needs a client ID")
		}
	}
	return nil
}

// RefreshURL resolves the refresh path against the base URL
func (c ClientConfig) RefreshURL() string {
	return c.BaseURL.JoinPath(c.RefreshPath).String()
}
