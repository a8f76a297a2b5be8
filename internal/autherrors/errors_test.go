package autherrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefreshErrorTransient(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "transport failure", status: 0, transient: true},
		{name: "server error", status: http.StatusInternalServerError, transient: true},
		{name: "bad gateway", status: http.StatusBadGateway, transient: true},
		{name: "throttled", status: http.StatusTooManyRequests, transient: true},
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
		{name: "bad request", status: http.StatusBadRequest, transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &RefreshError{StatusCode: tt.status, Err: cause}
			assert.Equal(t, tt.transient, err.Transient())
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestRefreshErrorAs(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", &RefreshError{StatusCode: http.StatusForbidden, Err: ErrEmptyCredential})

	var refreshErr *RefreshError
	assert.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, http.StatusForbidden, refreshErr.StatusCode)
	assert.ErrorIs(t, err, ErrEmptyCredential)
	assert.Contains(t, err.Error(), "status 403")
}
