// Package session keeps the widget's conversation history and rate-limit
// state in session-scoped storage and drives the UI from them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidStoreType is returned for an unknown storage driver.
	ErrInvalidStoreType = errors.New("session: invalid store type")
	// ErrInvalidConfig is returned when a driver is missing a required option.
	ErrInvalidConfig = errors.New("session: invalid store configuration")
)

// StoreType names a storage driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Storage is string key/value storage scoped to one session.
type Storage interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// StoreOption is a functional option for configuring a storage driver.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	sessionID   string
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets the session lifetime; every write refreshes it.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithSessionID sets the session the store is scoped to.
func WithSessionID(id string) StoreOption {
	return func(c *storeConfig) {
		c.sessionID = id
	}
}

// NewStorage creates a Storage of the given type.
// For Redis, requires WithRedisClient and WithSessionID.
func NewStorage(storeType StoreType, opts ...StoreOption) (Storage, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return &memoryStorage{values: make(map[string]string)}, nil

	case StoreTypeRedis:
		if config.redisClient == nil || config.sessionID == "" {
			return nil, ErrInvalidConfig
		}
		ttl := config.ttl
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisStorage{
			client: config.redisClient,
			prefix: "session:" + config.sessionID + ":",
			ttl:    ttl,
		}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

// memoryStorage lives as long as the process.
type memoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func (s *memoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *memoryStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *memoryStorage) Close() error {
	return nil
}

// redisStorage namespaces keys by session ID and expires them with the session.
type redisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (s *redisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, s.prefix+key, s.ttl).Err()

	return val, true, nil
}

func (s *redisStorage) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

func (s *redisStorage) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisStorage) Close() error {
	return s.client.Close()
}
