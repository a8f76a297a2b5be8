package refresh

import (
	"errors"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
)

// CooldownPolicy decides for how long refreshes are suppressed after a failed attempt.
type CooldownPolicy struct {
	Transient time.Duration
	Terminal  time.Duration
}

func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{Transient: 30 * time.Second, Terminal: 30 * time.Second}
}

func CooldownPolicyFromConfig(refreshConfig config.RefreshConfig) CooldownPolicy {
	return CooldownPolicy{Transient: refreshConfig.TransientCooldown, Terminal: refreshConfig.TerminalCooldown}
}

func (p CooldownPolicy) For(err error) time.Duration {
	if IsTransient(err) {
		return p.Transient
	}
	return p.Terminal
}

// IsTransient reports whether a refresh failure may succeed later with the same
// refresh credential. Errors that are not classified are considered transient.
func IsTransient(err error) bool {
	if errors.Is(err, autherrors.ErrEmptyCredential) || errors.Is(err, autherrors.ErrNoCredential) {
		return false
	}
	var refreshErr *autherrors.RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr.Transient()
	}
	return true
}
