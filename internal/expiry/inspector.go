// Package expiry decodes the expiry claim embedded in access tokens.
//
// The inspection is local and does not verify signatures: it only answers whether a
// token is worth sending. A token without a decodable expiry is always treated as
// expired.
package expiry

import (
	"fmt"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
)

type Inspector struct {
	clock  clockwork.Clock
	parser *jwt.Parser
}

func NewInspector(clock clockwork.Clock) Inspector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Inspector{clock: clock, parser: jwt.NewParser()}
}

// ExpiresAt returns the expiry instant of the token.
func (i Inspector) ExpiresAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, autherrors.ErrTokenParse
	}
	claims := jwt.RegisteredClaims{}
	_, _, err := i.parser.ParseUnverified(raw, &claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", autherrors.ErrTokenParse, err.Error())
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", autherrors.ErrTokenParse)
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired is true when the current time is at or past the expiry of the token,
// or when the expiry cannot be decoded.
func (i Inspector) IsExpired(raw string) bool {
	return i.ExpiresWithin(raw, 0)
}

// ExpiresWithin is true when the token will be expired after margin has passed.
func (i Inspector) ExpiresWithin(raw string, margin time.Duration) bool {
	expiresAt, err := i.ExpiresAt(raw)
	if err != nil {
		return true
	}
	return !i.clock.Now().Add(margin).Before(expiresAt)
}

// Credential builds a credential with the expiry decoded from the access token.
func (i Inspector) Credential(accessToken, refreshToken string) models.Credential {
	expiresAt, _ := i.ExpiresAt(accessToken)
	return models.Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
}

func (i Inspector) Now() time.Time {
	return i.clock.Now()
}
