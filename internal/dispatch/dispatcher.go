// Package dispatch sends requests to the backend with the current access credential.
//
// The dispatcher knows nothing about refreshes or retries. It only attaches the
// stored credential when the caller did not set an Authorization header itself.
package dispatch

import (
	"fmt"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/utils"
	"golang.org/x/time/rate"
)

const authorizationHeader string = "Authorization"

type Dispatcher struct {
	base    http.RoundTripper
	store   models.CredentialGetter
	limiter *rate.Limiter
}

func (d *Dispatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	if d.limiter != nil {
		err := d.limiter.Wait(req.Context())
		if err != nil {
			return nil, err
		}
	}
	// RoundTrippers must not modify the request they are given
	out := req.Clone(req.Context())
	if out.Header.Get(authorizationHeader) == "" {
		if cred := d.store.Get(); cred != nil && cred.AccessToken != "" {
			out.Header.Set(authorizationHeader, BearerValue(cred.AccessToken))
		}
	}
	utils.EnsureRequestID(out.Header)
	return d.base.RoundTrip(out)
}

func BearerValue(token string) string {
	return "Bearer " + token
}

type DispatcherOption func(*Dispatcher) error

func WithBaseTransport(base http.RoundTripper) DispatcherOption {
	return func(d *Dispatcher) error {
		if base != nil {
			d.base = base
		}
		return nil
	}
}

func WithCredentialGetter(store models.CredentialGetter) DispatcherOption {
	return func(d *Dispatcher) error {
		d.store = store
		return nil
	}
}

func WithRateLimits(limits config.RateLimits) DispatcherOption {
	return func(d *Dispatcher) error {
		if !limits.Enabled {
			return nil
		}
		if limits.Rate <= 0 || limits.Burst <= 0 {
			return fmt.Errorf("invalid rate limits rate=%v burst=%d", limits.Rate, limits.Burst)
		}
		d.limiter = rate.NewLimiter(rate.Limit(limits.Rate), limits.Burst)
		return nil
	}
}

func NewDispatcher(options ...DispatcherOption) (*Dispatcher, error) {
	d := Dispatcher{base: http.DefaultTransport}
	for _, opt := range options {
		err := opt(&d)
		if err != nil {
			return &Dispatcher{}, err
		}
	}
	if d.store == nil {
		return &Dispatcher{}, fmt.Errorf("credential store not initialized")
	}
	return &d, nil
}
