package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "eBfR0WfHBTrRrVdLpsTYmWtPwJfQqOEq"

func newTestRedisMirror(t *testing.T, encrypted bool) (*RedisMirror, *MockRedisClient, clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	rdb := NewMockRedisClient()
	rdb.now = clock.Now
	m, err := NewRedisMirror(
		WithRedisClient(rdb),
		WithRedisClock(clock),
		WithRedisMirrorConfig(config.RedisMirrorConfig{
			Enabled:             true,
			KeyPrefix:           "test",
			ClientID:            "web",
			RefreshIndicatorTTL: time.Hour,
			Encryption:          config.EncryptionConfig{Enabled: encrypted, SecretKey: testSecretKey},
		}),
	)
	require.NoError(t, err)
	return m, rdb, clock
}

func TestNewRedisMirrorValidation(t *testing.T) {
	_, err := NewRedisMirror()
	assert.Error(t, err)
	_, err = NewRedisMirror(WithRedisConfig(config.RedisConfig{Type: "memcached"}))
	assert.Error(t, err)
	_, err = NewRedisMirror(WithRedisClient(NewMockRedisClient()), WithEncryption("short"))
	assert.Error(t, err)
	m, err := NewRedisMirror(WithRedisConfig(config.RedisConfig{Type: config.DBTypeRedisMock}))
	require.NoError(t, err)
	assert.Equal(t, "authclient:default:access", m.accessKey())
}

func TestRedisMirrorRoundTrip(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		m, rdb, clock := newTestRedisMirror(t, encrypted)
		ctx := context.Background()
		expiresAt := clock.Now().Add(5 * time.Minute)

		err := m.Notify(ctx, &models.Credential{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: expiresAt})
		require.NoError(t, err)

		cred, err := m.AccessCredential(ctx)
		require.NoError(t, err)
		assert.Equal(t, "access", cred.AccessToken)
		assert.Equal(t, "", cred.RefreshToken)
		assert.True(t, expiresAt.Equal(cred.ExpiresAt))
		hasRefresh, err := m.HasRefreshIndicator(ctx)
		require.NoError(t, err)
		assert.True(t, hasRefresh)

		raw, err := rdb.HGetAll(ctx, "test:web:access").Result()
		require.NoError(t, err)
		assert.Equal(t, !encrypted, raw["AccessToken"] == "access")
		accessExpiry, found := rdb.TTL("test:web:access")
		assert.True(t, found)
		assert.True(t, expiresAt.Equal(accessExpiry))
		refreshExpiry, found := rdb.TTL("test:web:refresh")
		assert.True(t, found)
		assert.True(t, clock.Now().Add(time.Hour).Equal(refreshExpiry))
	}
}

func TestRedisMirrorExpiresWithCredential(t *testing.T) {
	m, _, clock := newTestRedisMirror(t, false)
	ctx := context.Background()
	require.NoError(t, m.Notify(ctx, &models.Credential{AccessToken: "access", ExpiresAt: clock.Now().Add(time.Minute)}))

	clock.Advance(time.Minute)

	_, err := m.AccessCredential(ctx)
	assert.ErrorIs(t, err, autherrors.ErrMissingDBResource)
}

func TestRedisMirrorClear(t *testing.T) {
	m, _, clock := newTestRedisMirror(t, true)
	ctx := context.Background()
	require.NoError(t, m.Notify(ctx, &models.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: clock.Now().Add(time.Minute)}))

	require.NoError(t, m.Notify(ctx, nil))

	_, err := m.AccessCredential(ctx)
	assert.ErrorIs(t, err, autherrors.ErrMissingDBResource)
	hasRefresh, err := m.HasRefreshIndicator(ctx)
	require.NoError(t, err)
	assert.False(t, hasRefresh)
}

func TestRedisMirrorFailsClosedWithoutExpiry(t *testing.T) {
	m, _, clock := newTestRedisMirror(t, false)
	ctx := context.Background()
	require.NoError(t, m.Notify(ctx, &models.Credential{AccessToken: "a", ExpiresAt: clock.Now().Add(time.Minute)}))

	require.NoError(t, m.Notify(ctx, &models.Credential{AccessToken: "opaque", RefreshToken: "r"}))

	_, err := m.AccessCredential(ctx)
	assert.ErrorIs(t, err, autherrors.ErrMissingDBResource)
	hasRefresh, err := m.HasRefreshIndicator(ctx)
	require.NoError(t, err)
	assert.True(t, hasRefresh)
}
