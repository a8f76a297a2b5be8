// Package autherrors contains all common errors used by the authenticated client.
package autherrors

import (
	"fmt"
	"net/http"
)

var ErrNoCredential = fmt.Errorf("there is no stored credential to refresh from")
var ErrRefreshCooldown = fmt.Errorf("refresh is suppressed until the cooldown window elapses")
var ErrEmptyCredential = fmt.Errorf("the refresh endpoint did not return a credential")
var ErrTokenParse = fmt.Errorf("cannot parse the claims of the token")
var ErrMissingDBResource = fmt.Errorf("the requested resource cannot be found in the DB")

// RefreshError is returned when the backend refresh call fails.
type RefreshError struct {
	// StatusCode is zero when the call failed before a response was received.
	StatusCode int
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("refresh failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure may go away without new credentials:
// transport errors, throttling and server side errors.
func (e *RefreshError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
