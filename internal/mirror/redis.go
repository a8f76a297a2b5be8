package mirror

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

// accessMirror is the hash stored under the access key, it expires with the credential
type accessMirror struct {
	AccessToken string
	ExpiresAt   time.Time
}

// refreshIndicator only records that a refresh credential exists, never its value
type refreshIndicator struct {
	IssuedAt time.Time
}

// RedisMirror mirrors the access credential and a refresh indicator to redis so that
// a route gate running in another process can inspect them.
type RedisMirror struct {
	rdb        LimitedRedisClient
	encryptor  models.Encryptor
	clock      clockwork.Clock
	keyPrefix  string
	clientID   string
	refreshTTL time.Duration
}

func (r *RedisMirror) accessKey() string {
	return fmt.Sprintf("%s:%s:access", r.keyPrefix, r.clientID)
}

func (r *RedisMirror) refreshKey() string {
	return fmt.Sprintf("%s:%s:refresh", r.keyPrefix, r.clientID)
}

func (r *RedisMirror) Notify(ctx context.Context, cred *models.Credential) error {
	if cred == nil {
		return r.rdb.Del(ctx, r.accessKey(), r.refreshKey()).Err()
	}
	err := r.mirrorAccess(ctx, *cred)
	if err != nil {
		return err
	}
	return r.mirrorRefreshIndicator(ctx, *cred)
}

func (r *RedisMirror) mirrorAccess(ctx context.Context, cred models.Credential) error {
	now := r.clock.Now()
	// a credential without a known future expiry is never exposed to the gate
	if !cred.HasExpiry() || !now.Before(cred.ExpiresAt) {
		return r.rdb.Del(ctx, r.accessKey()).Err()
	}
	token := cred.AccessToken
	if r.encryptor != nil {
		encrypted, err := r.encryptor.Encrypt(token)
		if err != nil {
			return err
		}
		token = encrypted
	}
	key := r.accessKey()
	err := r.rdb.Del(ctx, key).Err()
	if err != nil {
		return err
	}
	err = r.rdb.HSet(ctx, key, r.serializeStruct(accessMirror{AccessToken: token, ExpiresAt: cred.ExpiresAt})...).Err()
	if err != nil {
		return err
	}
	return r.rdb.ExpireAt(ctx, key, cred.ExpiresAt).Err()
}

func (r *RedisMirror) mirrorRefreshIndicator(ctx context.Context, cred models.Credential) error {
	key := r.refreshKey()
	if !cred.HasRefreshToken() {
		return r.rdb.Del(ctx, key).Err()
	}
	now := r.clock.Now()
	err := r.rdb.HSet(ctx, key, r.serializeStruct(refreshIndicator{IssuedAt: now})...).Err()
	if err != nil {
		return err
	}
	if r.refreshTTL == 0 {
		return r.rdb.Persist(ctx, key).Err()
	}
	return r.rdb.ExpireAt(ctx, key, now.Add(r.refreshTTL)).Err()
}

// AccessCredential reads back the mirrored access credential, the refresh token is
// never mirrored.
func (r *RedisMirror) AccessCredential(ctx context.Context) (models.Credential, error) {
	hash, err := r.rdb.HGetAll(ctx, r.accessKey()).Result()
	if err != nil {
		return models.Credential{}, err
	}
	var mirrored accessMirror
	err = r.deserializeToStruct(hash, &mirrored)
	if err != nil {
		return models.Credential{}, err
	}
	token := mirrored.AccessToken
	if r.encryptor != nil {
		token, err = r.encryptor.Decrypt(token)
		if err != nil {
			return models.Credential{}, err
		}
	}
	return models.Credential{AccessToken: token, ExpiresAt: mirrored.ExpiresAt}, nil
}

func (r *RedisMirror) HasRefreshIndicator(ctx context.Context) (bool, error) {
	hash, err := r.rdb.HGetAll(ctx, r.refreshKey()).Result()
	if err != nil {
		return false, err
	}
	var indicator refreshIndicator
	err = r.deserializeToStruct(hash, &indicator)
	if errors.Is(err, autherrors.ErrMissingDBResource) {
		return false, nil
	}
	return err == nil, err
}

func (RedisMirror) serializeStruct(strct any) []any {
	v := reflect.ValueOf(strct)
	t := v.Type()
	var output []any
	for i := 0; i < v.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		fieldName := t.Field(i).Name
		fieldValue := v.Field(i).Interface()
		marshaller, ok := fieldValue.(encoding.TextMarshaler)
		if !ok {
			output = append(output, fieldName, fieldValue)
			continue
		}
		rawBytes, err := marshaller.MarshalText()
		if err != nil {
			output = append(output, fieldName, fieldValue)
			continue
		}
		output = append(output, fieldName, string(rawBytes))
	}
	return output
}

func (RedisMirror) deserializeToStruct(hash map[string]string, output any) error {
	if len(hash) == 0 {
		// HGetAll returns an empty map when the key is missing or expired
		return autherrors.ErrMissingDBResource
	}
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result: output,
		},
	)
	if err != nil {
		return err
	}
	return decoder.Decode(hash)
}

type RedisMirrorOption func(*RedisMirror) error

func WithRedisConfig(redisConfig config.RedisConfig) RedisMirrorOption {
	return func(r *RedisMirror) error {
		switch redisConfig.Type {
		case config.DBTypeRedis:
			if len(redisConfig.Addresses) == 0 {
				return fmt.Errorf("at least one redis address is required")
			}
			if redisConfig.IsSentinel {
				r.rdb = redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:       redisConfig.MasterName,
					SentinelAddrs:    redisConfig.Addresses,
					Password:         string(redisConfig.Password),
					DB:               redisConfig.DBIndex,
					SentinelPassword: string(redisConfig.Password),
				})
				return nil
			}
			r.rdb = redis.NewClient(&redis.Options{
				Password: string(redisConfig.Password),
				DB:       redisConfig.DBIndex,
				Addr:     redisConfig.Addresses[0],
			})
			return nil
		case config.DBTypeRedisMock:
			r.rdb = NewMockRedisClient()
			return nil
		default:
			return fmt.Errorf("unrecognized persistence type %v", redisConfig.Type)
		}
	}
}

func WithRedisClient(rdb LimitedRedisClient) RedisMirrorOption {
	return func(r *RedisMirror) error {
		r.rdb = rdb
		return nil
	}
}

func WithRedisMirrorConfig(mirrorConfig config.RedisMirrorConfig) RedisMirrorOption {
	return func(r *RedisMirror) error {
		r.keyPrefix = mirrorConfig.KeyPrefix
		r.clientID = mirrorConfig.ClientID
		r.refreshTTL = mirrorConfig.RefreshIndicatorTTL
		if mirrorConfig.Encryption.Enabled {
			return WithEncryption(string(mirrorConfig.Encryption.SecretKey))(r)
		}
		return nil
	}
}

func WithEncryption(secretKey string) RedisMirrorOption {
	return func(r *RedisMirror) error {
		encryptor, err := NewGCMEncryptor(secretKey)
		if err != nil {
			return err
		}
		r.encryptor = encryptor
		return nil
	}
}

func WithRedisClock(clock clockwork.Clock) RedisMirrorOption {
	return func(r *RedisMirror) error {
		r.clock = clock
		return nil
	}
}

func NewRedisMirror(options ...RedisMirrorOption) (*RedisMirror, error) {
	r := RedisMirror{clock: clockwork.NewRealClock(), keyPrefix: "authclient", clientID: "default"}
	for _, opt := range options {
		err := opt(&r)
		if err != nil {
			return &RedisMirror{}, err
		}
	}
	if r.rdb == nil {
		return &RedisMirror{}, fmt.Errorf("redis client is not initialized")
	}
	if r.clientID == "" {
		return &RedisMirror{}, fmt.Errorf("the redis mirror needs a client ID")
	}
	return &r, nil
}
