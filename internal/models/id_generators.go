package models

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDGenerator implements models.IDGenerator and generates ULIDs for refresh operation IDs
type ULIDGenerator struct{}

func (ULIDGenerator) ID() (string, error) {
	now := time.Now()
	ms := ulid.Timestamp(now)
	id, err := ulid.New(ms, rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), err
}
