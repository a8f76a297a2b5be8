package mirror

import (
	"context"
	"encoding"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MockRedisClient implements LimitedRedisClient in memory.
// Only suitable for testing and development.
// The value set for the IntCmd or similar results is always 1 regardless of how many records were affected
// Contexts are completely ignored
type MockRedisClient struct {
	lock    sync.Mutex
	store   map[string]map[string]any
	expires map[string]time.Time
	now     func() time.Time
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		store:   map[string]map[string]any{},
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func convertValuesToMap(values ...any) (map[string]any, error) {
	if len(values)%2 != 0 {
		return map[string]any{}, fmt.Errorf("number of provided values must be even")
	}
	output := map[string]any{}
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			return map[string]any{}, fmt.Errorf("hash field names have to be strings")
		}
		output[key] = values[i+1]
	}
	return output, nil
}

// expire drops the key when its expiry has passed, the lock has to be held
func (m *MockRedisClient) expire(key string) {
	expiry, found := m.expires[key]
	if found && !m.now().Before(expiry) {
		delete(m.store, key)
		delete(m.expires, key)
	}
}

func (m *MockRedisClient) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := redis.IntCmd{}
	val, err := convertValuesToMap(values...)
	if err != nil {
		res.SetErr(err)
		return &res
	}
	m.expire(key)
	if _, found := m.store[key]; !found {
		m.store[key] = map[string]any{}
	}
	for k, v := range val {
		m.store[key][k] = v
	}
	res.SetVal(1)
	return &res
}

func (m *MockRedisClient) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.expire(key)
	res := redis.MapStringStringCmd{}
	res.SetVal(map[string]string{})
	val, found := m.store[key]
	if !found {
		return &res
	}
	output := map[string]string{}
	for k, v := range val {
		switch typed := v.(type) {
		case string:
			output[k] = typed
		case encoding.TextMarshaler:
			raw, err := typed.MarshalText()
			if err != nil {
				res.SetErr(err)
				return &res
			}
			output[k] = string(raw)
		default:
			output[k] = fmt.Sprint(typed)
		}
	}
	res.SetVal(output)
	return &res
}

func (m *MockRedisClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, k := range keys {
		delete(m.store, k)
		delete(m.expires, k)
	}
	res := redis.IntCmd{}
	res.SetVal(1)
	return &res
}

func (m *MockRedisClient) ExpireAt(_ context.Context, key string, tm time.Time) *redis.BoolCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := redis.BoolCmd{}
	m.expire(key)
	if _, found := m.store[key]; !found {
		res.SetVal(false)
		return &res
	}
	m.expires[key] = tm
	m.expire(key)
	res.SetVal(true)
	return &res
}

func (m *MockRedisClient) Persist(_ context.Context, key string) *redis.BoolCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := redis.BoolCmd{}
	_, found := m.expires[key]
	delete(m.expires, key)
	res.SetVal(found)
	return &res
}

// TTL reports the expiry recorded for the key, used by tests
func (m *MockRedisClient) TTL(key string) (time.Time, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	expiry, found := m.expires[key]
	return expiry, found
}
