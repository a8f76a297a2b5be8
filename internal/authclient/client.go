// Package authclient assembles the authenticated HTTP client: every request goes
// through the interceptor, then the dispatcher, and unauthorized responses share a
// single refresh.
package authclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/credentials"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/dispatch"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/expiry"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/interceptor"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/mirror"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/refresh"
	"github.com/jonboulle/clockwork"
)

type Client struct {
	inspector   expiry.Inspector
	store       *credentials.Store
	coordinator *refresh.Coordinator
	transport   *interceptor.Interceptor
	httpClient  *http.Client
	cookies     *mirror.CookieMirror
	redis       *mirror.RedisMirror
}

// Do sends the request with the stored credential. An unauthorized response is
// retried at most once after a refresh, otherwise it is returned as received.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Transport can be used to send requests built elsewhere, e.g. by a reverse proxy.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// SetCredential stores the credential received from a login or handed over by
// another process.
func (c *Client) SetCredential(ctx context.Context, accessToken, refreshToken string) models.Credential {
	cred := c.inspector.Credential(accessToken, refreshToken)
	c.store.Set(ctx, cred)
	return cred
}

func (c *Client) Logout(ctx context.Context) {
	c.store.Clear(ctx)
}

func (c *Client) Credential() *models.Credential {
	return c.store.Get()
}

// IsAuthenticated is true only while the stored access credential is not expired.
func (c *Client) IsAuthenticated() bool {
	return c.store.IsAuthenticated()
}

func (c *Client) HasRefreshCredential() bool {
	return c.store.HasRefreshCredential()
}

func (c *Client) RequestRefresh(ctx context.Context) (*models.Credential, error) {
	return c.coordinator.RequestRefresh(ctx)
}

func (c *Client) Inspector() expiry.Inspector {
	return c.inspector
}

// CookieMirror is nil unless the cookie mirror is enabled.
func (c *Client) CookieMirror() *mirror.CookieMirror {
	return c.cookies
}

// RedisMirror is nil unless the redis mirror is enabled.
func (c *Client) RedisMirror() *mirror.RedisMirror {
	return c.redis
}

type clientSettings struct {
	clientConfig *config.ClientConfig
	mirrorConfig config.MirrorConfig
	redisConfig  config.RedisConfig
	clock        clockwork.Clock
	base         http.RoundTripper
	refresher    refresh.Refresher
	listener     credentials.Listener
	notifiers    []models.CredentialNotifier
	initial      *models.Credential
	metrics      *metrics.Metrics
	preemptive   bool
}

type ClientOption func(*clientSettings) error

// WithConfig configures the client and the credential mirrors.
func WithConfig(cfg config.Config) ClientOption {
	return func(s *clientSettings) error {
		clientConfig := cfg.Client
		s.clientConfig = &clientConfig
		s.mirrorConfig = cfg.Mirror
		s.redisConfig = cfg.Redis
		return nil
	}
}

func WithClientConfig(clientConfig config.ClientConfig) ClientOption {
	return func(s *clientSettings) error {
		s.clientConfig = &clientConfig
		return nil
	}
}

func WithClock(clock clockwork.Clock) ClientOption {
	return func(s *clientSettings) error {
		s.clock = clock
		return nil
	}
}

// WithBaseTransport sets the transport used for the network calls, http.DefaultTransport by default.
func WithBaseTransport(base http.RoundTripper) ClientOption {
	return func(s *clientSettings) error {
		s.base = base
		return nil
	}
}

// WithRefresher replaces the refresh call derived from the configuration.
func WithRefresher(refresher refresh.Refresher) ClientOption {
	return func(s *clientSettings) error {
		s.refresher = refresher
		return nil
	}
}

func WithListener(listener credentials.Listener) ClientOption {
	return func(s *clientSettings) error {
		s.listener = listener
		return nil
	}
}

func WithNotifiers(notifiers ...models.CredentialNotifier) ClientOption {
	return func(s *clientSettings) error {
		s.notifiers = append(s.notifiers, notifiers...)
		return nil
	}
}

func WithCredential(cred models.Credential) ClientOption {
	return func(s *clientSettings) error {
		s.initial = &cred
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(s *clientSettings) error {
		s.metrics = m
		return nil
	}
}

// WithPreemptiveRefresh refreshes an expired stored credential before it is sent.
func WithPreemptiveRefresh() ClientOption {
	return func(s *clientSettings) error {
		s.preemptive = true
		return nil
	}
}

func (s *clientSettings) mirrors(c *Client) error {
	if s.mirrorConfig.Cookie.Enabled {
		cookies, err := mirror.NewCookieMirror(
			mirror.WithCookieURL(s.clientConfig.BaseURL),
			mirror.WithCookieMirrorConfig(s.mirrorConfig.Cookie),
			mirror.WithCookieClock(s.clock),
		)
		if err != nil {
			return err
		}
		c.cookies = cookies
		s.notifiers = append(s.notifiers, cookies)
	}
	if s.mirrorConfig.Redis.Enabled {
		rdb, err := mirror.NewRedisMirror(
			mirror.WithRedisConfig(s.redisConfig),
			mirror.WithRedisMirrorConfig(s.mirrorConfig.Redis),
			mirror.WithRedisClock(s.clock),
		)
		if err != nil {
			return err
		}
		c.redis = rdb
		s.notifiers = append(s.notifiers, rdb)
	}
	return nil
}

func (s *clientSettings) backendRefresher(httpClient *http.Client) (refresh.Refresher, error) {
	if s.refresher != nil {
		return s.refresher, nil
	}
	if s.clientConfig.Refresh.OAuth2.Enabled {
		return refresh.NewOAuth2Refresher(
			refresh.WithOAuth2Config(s.clientConfig.Refresh.OAuth2),
			refresh.WithOAuth2HTTPClient(&http.Client{Transport: s.base, Timeout: s.clientConfig.Refresh.Timeout}),
		)
	}
	// the refresh call goes through the same transports as any other request, it is
	// marked so that its own unauthorized response is propagated
	return refresh.NewHTTPRefresher(
		refresh.WithRefreshURL(s.clientConfig.RefreshURL()),
		refresh.WithHTTPClient(httpClient),
	)
}

func NewClient(options ...ClientOption) (*Client, error) {
	s := clientSettings{clock: clockwork.NewRealClock(), base: http.DefaultTransport}
	for _, opt := range options {
		err := opt(&s)
		if err != nil {
			return &Client{}, err
		}
	}
	if s.clientConfig == nil {
		return &Client{}, fmt.Errorf("client config not initialized")
	}
	err := s.clientConfig.Validate()
	if err != nil {
		return &Client{}, err
	}

	c := Client{inspector: expiry.NewInspector(s.clock)}
	err = s.mirrors(&c)
	if err != nil {
		return &Client{}, err
	}
	storeOptions := []credentials.StoreOption{
		credentials.WithInspector(c.inspector),
		credentials.WithListener(s.listener),
		credentials.WithNotifiers(s.notifiers...),
	}
	if s.initial != nil {
		storeOptions = append(storeOptions, credentials.WithCredential(*s.initial))
	}
	c.store, err = credentials.NewStore(storeOptions...)
	if err != nil {
		return &Client{}, err
	}

	dispatcher, err := dispatch.NewDispatcher(
		dispatch.WithBaseTransport(s.base),
		dispatch.WithCredentialGetter(c.store),
		dispatch.WithRateLimits(s.clientConfig.RateLimits),
	)
	if err != nil {
		return &Client{}, err
	}
	c.httpClient = &http.Client{Timeout: s.clientConfig.RequestTimeout}
	refresher, err := s.backendRefresher(c.httpClient)
	if err != nil {
		return &Client{}, err
	}
	c.coordinator, err = refresh.NewCoordinator(
		refresh.WithStore(c.store),
		refresh.WithRefresher(refresher),
		refresh.WithClock(s.clock),
		refresh.WithConfig(s.clientConfig.Refresh),
		refresh.WithMetrics(s.metrics),
	)
	if err != nil {
		return &Client{}, err
	}
	interceptorOptions := []interceptor.InterceptorOption{
		interceptor.WithNext(dispatcher),
		interceptor.WithRefresher(c.coordinator),
		interceptor.WithStore(c.store),
		interceptor.WithAuthEndpoints(s.clientConfig.AuthEndpoints...),
		interceptor.WithMetrics(s.metrics),
	}
	if s.preemptive {
		interceptorOptions = append(interceptorOptions, interceptor.WithPreemptiveRefresh(c.inspector))
	}
	c.transport, err = interceptor.NewInterceptor(interceptorOptions...)
	if err != nil {
		return &Client{}, err
	}
	c.httpClient.Transport = c.transport
	slog.Debug(
		"AUTH CLIENT",
		"message",
		"client initialized",
		"baseURL",
		s.clientConfig.BaseURL.String(),
		"notifiers",
		len(s.notifiers),
	)
	return &c, nil
}
