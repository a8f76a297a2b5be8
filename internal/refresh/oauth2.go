package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"golang.org/x/oauth2"
)

// OAuth2Refresher renews the credential with a standard refresh_token grant.
type OAuth2Refresher struct {
	config *oauth2.Config
	client *http.Client
}

func (o *OAuth2Refresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	if !current.HasRefreshToken() {
		return models.Credential{}, autherrors.ErrNoCredential
	}
	if o.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	}
	// without an access token the source always calls the token endpoint
	source := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return models.Credential{}, &autherrors.RefreshError{StatusCode: retrieveErr.Response.StatusCode, Err: err}
		}
		return models.Credential{}, &autherrors.RefreshError{Err: err}
	}
	return models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

type OAuth2RefresherOption func(*OAuth2Refresher) error

func WithOAuth2Config(oauth2Config config.OAuth2Config) OAuth2RefresherOption {
	return func(o *OAuth2Refresher) error {
		if oauth2Config.TokenURL == "" || oauth2Config.ClientID == "" {
			return fmt.Errorf("the oauth2 refresh grant needs a token URL and a client ID")
		}
		o.config = &oauth2.Config{
			ClientID:     oauth2Config.ClientID,
			ClientSecret: string(oauth2Config.ClientSecret),
			Endpoint:     oauth2.Endpoint{TokenURL: oauth2Config.TokenURL},
			Scopes:       oauth2Config.Scopes,
		}
		return nil
	}
}

func WithOAuth2HTTPClient(client *http.Client) OAuth2RefresherOption {
	return func(o *OAuth2Refresher) error {
		o.client = client
		return nil
	}
}

func NewOAuth2Refresher(options ...OAuth2RefresherOption) (*OAuth2Refresher, error) {
	o := OAuth2Refresher{}
	for _, opt := range options {
		err := opt(&o)
		if err != nil {
			return &OAuth2Refresher{}, err
		}
	}
	if o.config == nil {
		return &OAuth2Refresher{}, fmt.Errorf("oauth2 config not initialized")
	}
	return &o, nil
}
