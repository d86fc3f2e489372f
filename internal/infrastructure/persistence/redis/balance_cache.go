package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
)

// invalidateBalance drops the cached balance and advances the generation in
// one step. KEYS: balance, generation. ARGV: generation TTL in seconds.
var invalidateBalance = redis.NewScript(`
redis.call("DEL", KEYS[1])
local gen = redis.call("INCR", KEYS[2])
redis.call("EXPIRE", KEYS[2], ARGV[1])
return gen
`)

// fillBalance stores a ledger sum only if no append committed since the
// caller read the generation. KEYS: balance, generation. ARGV: expected
// generation, balance, TTL in milliseconds.
var fillBalance = redis.NewScript(`
local gen = tonumber(redis.call("GET", KEYS[2]) or "0")
if gen ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// BalanceCache mirrors ledger balances in Redis, guarded by a per-child
// write generation.
type BalanceCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ ledger.BalanceCache = (*BalanceCache)(nil)

// NewBalanceCache creates a BalanceCache. ttl <= 0 uses TTLBalance.
func NewBalanceCache(cache *Cache, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = TTLBalance
	}
	return &BalanceCache{cache: cache, ttl: ttl}
}

// Get returns the cached balance.
func (b *BalanceCache) Get(ctx context.Context, childID string) (int64, bool, error) {
	val, err := b.cache.client.Get(ctx, BalanceKey(childID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// A corrupt value is a miss; the next fill overwrites it.
		return 0, false, nil
	}
	return balance, true, nil
}

// Generation returns the child's write generation.
func (b *BalanceCache) Generation(ctx context.Context, childID string) (int64, error) {
	gen, err := b.cache.client.Get(ctx, BalanceGenerationKey(childID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Invalidate drops the cached balance and advances the generation.
func (b *BalanceCache) Invalidate(ctx context.Context, childID string) (int64, error) {
	keys := []string{BalanceKey(childID), BalanceGenerationKey(childID)}
	return invalidateBalance.Run(ctx, b.cache.client, keys, int64(TTLBalanceGeneration/time.Second)).Int64()
}

// Fill stores balance if the generation still equals gen.
func (b *BalanceCache) Fill(ctx context.Context, childID string, balance, gen int64) (bool, error) {
	keys := []string{BalanceKey(childID), BalanceGenerationKey(childID)}
	n, err := fillBalance.Run(ctx, b.cache.client, keys, gen, balance, b.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
