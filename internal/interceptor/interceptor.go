// Package interceptor turns unauthorized responses into at most one refresh and one retry.
package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/expiry"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/utils"
)

// CredentialRefresher yields a renewed credential. Concurrent calls must share a
// single backend refresh.
type CredentialRefresher interface {
	RequestRefresh(ctx context.Context) (*models.Credential, error)
}

type CredentialStore interface {
	models.CredentialGetter
	models.CredentialRemover
}

type Interceptor struct {
	next          http.RoundTripper
	refresher     CredentialRefresher
	store         CredentialStore
	authEndpoints []string
	metrics       *metrics.Metrics
	// preemptive refreshes a stored credential that is already known to be expired
	// before the first dispatch
	preemptive *expiry.Inspector
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}
	i.refreshStale(req)
	// the credential the next round tripper attaches, unless the caller set its own
	var sent *models.Credential
	if req.Header.Get("Authorization") == "" {
		sent = i.store.Get()
	}
	resp, err := i.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	return i.handleUnauthorized(req, resp, sent)
}

func (i *Interceptor) handleUnauthorized(req *http.Request, resp *http.Response, sent *models.Credential) (*http.Response, error) {
	ctx := req.Context()
	authEndpoint := i.IsAuthEndpoint(req)
	if authEndpoint || ShouldSkipRefresh(ctx) || WasRetried(ctx) {
		i.metrics.Unauthorized(metrics.RetryNotEligible)
		if !authEndpoint {
			slog.Debug(
				"INTERCEPTOR",
				"message",
				"unauthorized response is not eligible for a refresh, clearing the credential",
				"path",
				req.URL.Path,
				"retried",
				WasRetried(ctx),
				"requestID",
				req.Header.Get(utils.RequestIDHeader),
			)
			i.store.Clear(context.WithoutCancel(ctx))
		}
		return resp, nil
	}

	if sent != nil {
		if current := i.store.Get(); current != nil && current.AccessToken != sent.AccessToken {
			slog.Debug(
				"INTERCEPTOR",
				"message",
				"credential was renewed while the request was in flight, retrying without a refresh",
				"path",
				req.URL.Path,
			)
			return i.retry(req, resp, *current)
		}
	}

	cred, err := i.refresher.RequestRefresh(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// the caller gave up waiting, the shared refresh carries on for the others
			return resp, nil
		}
		slog.Info(
			"INTERCEPTOR",
			"message",
			"refresh failed, propagating the unauthorized response",
			"path",
			req.URL.Path,
			"error",
			err,
		)
		i.metrics.Unauthorized(metrics.RetryRefreshFailed)
		if !errors.Is(err, autherrors.ErrNoCredential) {
			// without a credential to refresh from the store is empty or holds a newer one
			i.store.Clear(context.WithoutCancel(ctx))
		}
		return resp, nil
	}
	return i.retry(req, resp, *cred)
}

func (i *Interceptor) retry(req *http.Request, resp *http.Response, cred models.Credential) (*http.Response, error) {
	retry, err := retryRequest(req, cred)
	if err != nil {
		slog.Error("INTERCEPTOR", "message", "cannot rebuild the request for a retry", "error", err)
		return resp, nil
	}
	discard(resp)
	i.metrics.Unauthorized(metrics.RetryDispatched)
	// the retried request goes through the same path so that a second unauthorized
	// response clears the credential instead of refreshing again
	return i.RoundTrip(retry)
}

func (i *Interceptor) refreshStale(req *http.Request) {
	if i.preemptive == nil || WasRetried(req.Context()) || ShouldSkipRefresh(req.Context()) {
		return
	}
	if req.Header.Get("Authorization") != "" || i.IsAuthEndpoint(req) {
		return
	}
	cred := i.store.Get()
	if cred == nil || !i.preemptive.IsExpired(cred.AccessToken) {
		return
	}
	_, err := i.refresher.RequestRefresh(req.Context())
	if err != nil {
		slog.Debug("INTERCEPTOR", "message", "preemptive refresh failed, sending the stale credential", "error", err)
	}
}

// IsAuthEndpoint is true for requests to login, registration, refresh and session
// endpoints. Their unauthorized responses are always propagated as they are.
func (i *Interceptor) IsAuthEndpoint(req *http.Request) bool {
	for _, endpoint := range i.authEndpoints {
		if strings.Contains(req.URL.Path, endpoint) {
			return true
		}
	}
	return false
}

// replayable makes sure that the body of the request can be sent a second time.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	content, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("cannot buffer the request body: %w", err)
	}
	out := req.Clone(req.Context())
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	}
	out.Body, _ = out.GetBody()
	return out, nil
}

func retryRequest(req *http.Request, cred models.Credential) (*http.Request, error) {
	retry := req.Clone(withRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	return retry, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}

type InterceptorOption func(*Interceptor) error

func WithNext(next http.RoundTripper) InterceptorOption {
	return func(i *Interceptor) error {
		i.next = next
		return nil
	}
}

func WithRefresher(refresher CredentialRefresher) InterceptorOption {
	return func(i *Interceptor) error {
		i.refresher = refresher
		return nil
	}
}

func WithStore(store CredentialStore) InterceptorOption {
	return func(i *Interceptor) error {
		i.store = store
		return nil
	}
}

func WithAuthEndpoints(endpoints ...string) InterceptorOption {
	return func(i *Interceptor) error {
		for _, endpoint := range endpoints {
			if endpoint == "" {
				return fmt.Errorf("authentication endpoints cannot be empty")
			}
		}
		i.authEndpoints = append(i.authEndpoints, endpoints...)
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) InterceptorOption {
	return func(i *Interceptor) error {
		i.metrics = m
		return nil
	}
}

func WithPreemptiveRefresh(inspector expiry.Inspector) InterceptorOption {
	return func(i *Interceptor) error {
		i.preemptive = &inspector
		return nil
	}
}

func NewInterceptor(options ...InterceptorOption) (*Interceptor, error) {
	i := Interceptor{}
	for _, opt := range options {
		err := opt(&i)
		if err != nil {
			return &Interceptor{}, err
		}
	}
	if i.next == nil {
		return &Interceptor{}, fmt.Errorf("next round tripper not initialized")
	}
	if i.refresher == nil {
		return &Interceptor{}, fmt.Errorf("credential refresher not initialized")
	}
	if i.store == nil {
		return &Interceptor{}, fmt.Errorf("credential store not initialized")
	}
	return &i, nil
}
