// Package redis holds the Redis side of SparkQuest Hub: the generation-guarded
// balance cache, the section content read-through cache, and the Pub/Sub transport
// that carries sync notifications between API instances. Redis is never
// authoritative; every value here can be rebuilt from the stores.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config describes one Redis endpoint and its pool.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig targets a local Redis.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

var (
	ErrCacheMiss       = errors.New("cache: key not found")
	ErrCacheConnection = errors.New("cache: connection failed")
	ErrCacheKeyEmpty   = errors.New("cache: key cannot be empty")
	ErrCacheNilValue   = errors.New("cache: value cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	keyspace = "sparkquest"

	// TTLBalance bounds how long an unreconciled balance can live.
	TTLBalance = 24 * time.Hour

	// TTLBalanceGeneration outlives any read that captured a generation.
	TTLBalanceGeneration = 30 * 24 * time.Hour

	// TTLSection only limits memory; stored content never changes.
	TTLSection = 7 * 24 * time.Hour
)

// BalanceKey is the cached balance key for a child. The braces keep it in the
// same cluster slot as BalanceGenerationKey.
func BalanceKey(childID string) string {
	return keyspace + ":balance:{" + childID + "}"
}

// BalanceGenerationKey counts committed appends for a child.
func BalanceGenerationKey(childID string) string {
	return keyspace + ":balance-gen:{" + childID + "}"
}

// SectionKey is the content key for one section of a topic.
func SectionKey(topicID string, index int) string {
	return fmt.Sprintf("%s:section:%s:%d", keyspace, topicID, index)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache is a go-redis client with JSON values.
type Cache struct {
	client *redis.Client
}

// NewCache dials Redis and fails when the first ping does not answer within
// the dial timeout.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr(), err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client. Tests use it with miniredis.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the go-redis client for scripts and Pub/Sub.
func (c *Cache) Client() *redis.Client { return c.client }

// Close closes the pool.
func (c *Cache) Close() error { return c.client.Close() }

// Ping reports whether Redis answers.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set stores value as JSON.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case value == nil:
		return ErrCacheNilValue
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
