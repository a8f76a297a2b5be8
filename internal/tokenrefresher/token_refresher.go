// Package tokenrefresher renews the access credential shortly before it expires so
// that requests rarely hit an unauthorized response.
package tokenrefresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/expiry"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/go-co-op/gocron"
)

// CredentialRefresher is satisfied by the authenticated client. Refreshes requested
// here join any refresh already in flight and honour the cooldown window.
type CredentialRefresher interface {
	Credential() *models.Credential
	RequestRefresh(ctx context.Context) (*models.Credential, error)
}

type TokenRefresher struct {
	interval     time.Duration
	expiryMargin time.Duration
	inspector    expiry.Inspector
	client       CredentialRefresher
}

func (tr *TokenRefresher) GetScheduler() (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)

	refreshExpiringTokenTask := func(job gocron.Job) {
		err := tr.refreshExpiringToken(job.Context())
		if err != nil {
			slog.Error("TOKEN REFRESHER", "message", "refreshExpiringToken failed", "error", err)
		}
	}

	_, err := s.Every(tr.interval).
		WaitForSchedule().
		DoWithJobDetails(refreshExpiringTokenTask)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (tr *TokenRefresher) refreshExpiringToken(ctx context.Context) error {
	cred := tr.client.Credential()
	if cred == nil || !cred.HasRefreshToken() {
		return nil
	}
	if !tr.inspector.ExpiresWithin(cred.AccessToken, tr.expiryMargin) {
		return nil
	}
	slog.Debug(
		"TOKEN REFRESHER",
		"message",
		"access token expires soon",
		"expiresAt",
		cred.ExpiresAt,
		"margin",
		tr.expiryMargin,
	)
	_, err := tr.client.RequestRefresh(ctx)
	if errors.Is(err, autherrors.ErrRefreshCooldown) {
		slog.Debug("TOKEN REFRESHER", "message", "refresh skipped during cooldown")
		return nil
	}
	if err != nil {
		return fmt.Errorf("proactive refresh failed: %w", err)
	}
	slog.Info("TOKEN REFRESHER", "message", "expiring access token refreshed")
	return nil
}

type TokenRefresherOption func(*TokenRefresher) error

func WithConfig(proactiveConfig config.ProactiveRefreshConfig) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.interval = proactiveConfig.Interval
		tr.expiryMargin = proactiveConfig.ExpiryMargin
		return nil
	}
}

func WithInspector(inspector expiry.Inspector) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.inspector = inspector
		return nil
	}
}

func WithClient(client CredentialRefresher) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.client = client
		return nil
	}
}

// NewTokenRefresher creates a new TokenRefresher that refreshes the access token when it expires soon.
func NewTokenRefresher(options ...TokenRefresherOption) (TokenRefresher, error) {
	tr := TokenRefresher{inspector: expiry.NewInspector(nil)}
	for _, opt := range options {
		err := opt(&tr)
		if err != nil {
			return TokenRefresher{}, err
		}
	}
	if tr.interval <= 0 {
		return TokenRefresher{}, fmt.Errorf("invalid value for the refresh interval (%s)", tr.interval)
	}
	if tr.expiryMargin <= 0 {
		return TokenRefresher{}, fmt.Errorf("invalid value for the expiry margin (%s)", tr.expiryMargin)
	}
	if tr.client == nil {
		return TokenRefresher{}, fmt.Errorf("client not initialized")
	}
	return tr, nil
}
