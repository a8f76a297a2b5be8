package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/interceptor"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
)

// Refresher performs the backend call that renews a credential.
type Refresher interface {
	Refresh(ctx context.Context, current models.Credential) (models.Credential, error)
}

type RefresherFunc func(ctx context.Context, current models.Credential) (models.Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	return f(ctx, current)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type refreshResponse struct {
	AccessToken       string `json:"access_token"`
	AccessTokenCamel  string `json:"accessToken"`
	RefreshToken      string `json:"refresh_token"`
	RefreshTokenCamel string `json:"refreshToken"`
	TokenType         string `json:"token_type"`
	ExpiresIn         int64  `json:"expires_in"`
}

func (r refreshResponse) credential() models.Credential {
	cred := models.Credential{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if cred.AccessToken == "" {
		cred.AccessToken = r.AccessTokenCamel
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = r.RefreshTokenCamel
	}
	return cred
}

// HTTPRefresher posts the refresh credential as JSON to the refresh endpoint of the backend.
type HTTPRefresher struct {
	client *http.Client
	url    string
}

func (h *HTTPRefresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: current.RefreshToken})
	if err != nil {
		return models.Credential{}, err
	}
	// an unauthorized response from the refresh call must never trigger another refresh
	ctx = interceptor.WithSkipRefresh(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return models.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return models.Credential{}, &autherrors.RefreshError{Err: err}
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return models.Credential{}, &autherrors.RefreshError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Credential{}, &autherrors.RefreshError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("the refresh endpoint rejected the request: %s", http.StatusText(resp.StatusCode)),
		}
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return models.Credential{}, autherrors.ErrEmptyCredential
	}
	var parsed refreshResponse
	err = json.Unmarshal(content, &parsed)
	if err != nil {
		return models.Credential{}, &autherrors.RefreshError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("cannot decode the refresh response: %w", err),
		}
	}
	cred := parsed.credential()
	if cred.AccessToken == "" {
		return models.Credential{}, autherrors.ErrEmptyCredential
	}
	return cred, nil
}

type HTTPRefresherOption func(*HTTPRefresher) error

func WithHTTPClient(client *http.Client) HTTPRefresherOption {
	return func(h *HTTPRefresher) error {
		h.client = client
		return nil
	}
}

func WithRefreshURL(url string) HTTPRefresherOption {
	return func(h *HTTPRefresher) error {
		h.url = url
		return nil
	}
}

func NewHTTPRefresher(options ...HTTPRefresherOption) (*HTTPRefresher, error) {
	h := HTTPRefresher{client: http.DefaultClient}
	for _, opt := range options {
		err := opt(&h)
		if err != nil {
			return &HTTPRefresher{}, err
		}
	}
	if h.url == "" {
		return &HTTPRefresher{}, fmt.Errorf("refresh URL not initialized")
	}
	if h.client == nil {
		return &HTTPRefresher{}, fmt.Errorf("http client not initialized")
	}
	return &h, nil
}
