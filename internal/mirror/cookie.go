// Package mirror exposes the credential held by the client to route gates that
// cannot read the client memory.
package mirror

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/publicsuffix"
)

// CookieMirror keeps a short lived access cookie and a longer lived refresh indicator
// cookie in a cookie jar scoped to the backend URL.
type CookieMirror struct {
	jar                  http.CookieJar
	url                  *url.URL
	clock                clockwork.Clock
	accessCookieName     string
	refreshIndicatorName string
	refreshIndicatorTTL  time.Duration
	secure               bool
}

func (c *CookieMirror) Notify(ctx context.Context, cred *models.Credential) error {
	c.jar.SetCookies(c.url, c.cookies(cred))
	return nil
}

func (c *CookieMirror) cookies(cred *models.Credential) []*http.Cookie {
	access := c.template(c.accessCookieName)
	indicator := c.template(c.refreshIndicatorName)
	access.MaxAge, indicator.MaxAge = -1, -1
	if cred == nil {
		return []*http.Cookie{access, indicator}
	}
	now := c.clock.Now()
	if cred.HasExpiry() && now.Before(cred.ExpiresAt) {
		access.Value = cred.AccessToken
		access.MaxAge = maxAge(cred.ExpiresAt.Sub(now))
		access.Expires = cred.ExpiresAt
	}
	if cred.HasRefreshToken() {
		indicator.Value = "1"
		indicator.MaxAge = maxAge(c.refreshIndicatorTTL)
		indicator.Expires = now.Add(c.refreshIndicatorTTL)
	}
	return []*http.Cookie{access, indicator}
}

// maxAge rounds up so that a credential valid for less than a second is still mirrored
func maxAge(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func (c *CookieMirror) template(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Path:     "/",
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *CookieMirror) lookup(name string) (string, bool) {
	for _, cookie := range c.jar.Cookies(c.url) {
		if cookie.Name == name {
			return cookie.Value, true
		}
	}
	return "", false
}

// AccessToken is the mirrored access credential, absent once it expired or was cleared
func (c *CookieMirror) AccessToken() (string, bool) {
	return c.lookup(c.accessCookieName)
}

func (c *CookieMirror) HasRefreshIndicator() bool {
	_, found := c.lookup(c.refreshIndicatorName)
	return found
}

// ResponseCookies renders the current mirror state as cookies that can be sent to a
// browser. Cookies missing from the jar are rendered as deletions.
func (c *CookieMirror) ResponseCookies() []*http.Cookie {
	access := c.template(c.accessCookieName)
	if value, found := c.AccessToken(); found {
		access.Value = value
	} else {
		access.MaxAge = -1
	}
	indicator := c.template(c.refreshIndicatorName)
	if value, found := c.lookup(c.refreshIndicatorName); found {
		indicator.Value = value
		indicator.MaxAge = maxAge(c.refreshIndicatorTTL)
	} else {
		indicator.MaxAge = -1
	}
	return []*http.Cookie{access, indicator}
}

type CookieMirrorOption func(*CookieMirror) error

func WithCookieMirrorConfig(cookieConfig config.CookieMirrorConfig) CookieMirrorOption {
	return func(c *CookieMirror) error {
		c.accessCookieName = cookieConfig.AccessCookieName
		c.refreshIndicatorName = cookieConfig.RefreshIndicatorName
		c.refreshIndicatorTTL = cookieConfig.RefreshIndicatorTTL
		c.secure = cookieConfig.Secure
		return nil
	}
}

func WithCookieURL(u *url.URL) CookieMirrorOption {
	return func(c *CookieMirror) error {
		if u == nil {
			return fmt.Errorf("the cookie mirror URL cannot be nil")
		}
		c.url = u
		return nil
	}
}

func WithCookieJar(jar http.CookieJar) CookieMirrorOption {
	return func(c *CookieMirror) error {
		c.jar = jar
		return nil
	}
}

func WithCookieClock(clock clockwork.Clock) CookieMirrorOption {
	return func(c *CookieMirror) error {
		c.clock = clock
		return nil
	}
}

func NewCookieMirror(options ...CookieMirrorOption) (*CookieMirror, error) {
	c := CookieMirror{clock: clockwork.NewRealClock()}
	for _, opt := range options {
		err := opt(&c)
		if err != nil {
			return &CookieMirror{}, err
		}
	}
	if c.url == nil {
		return &CookieMirror{}, fmt.Errorf("cookie mirror URL not initialized")
	}
	if c.accessCookieName == "" || c.refreshIndicatorName == "" {
		return &CookieMirror{}, fmt.Errorf("cookie names not initialized")
	}
	if c.url.Scheme != "https" {
		// the jar never returns secure cookies for plain http URLs
		c.secure = false
	}
	if c.jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return &CookieMirror{}, err
		}
		c.jar = jar
	}
	return &c, nil
}
