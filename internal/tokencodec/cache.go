package tokencodec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// decodeTTL is the short cache window for verified decode results (§4.2).
const decodeTTL = 30 * time.Second

// RedisDecodeCache caches verified AuthTokens for decodeTTL, keyed by a
// hash of the token string so the cache never stores raw bearer tokens.
type RedisDecodeCache struct {
	rdb *redis.Client
	ctx context.Context
}

func NewRedisDecodeCache(rdb *redis.Client) *RedisDecodeCache {
	return &RedisDecodeCache{rdb: rdb, ctx: context.Background()}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:decode:" + hex.EncodeToString(sum[:])
}

func (c *RedisDecodeCache) Get(token string) (*AuthToken, bool) {
	data, err := c.rdb.Get(c.ctx, cacheKey(token)).Bytes()
	if err != nil {
		return nil, false
	}
	var at AuthToken
	if err := json.Unmarshal(data, &at); err != nil {
		return nil, false
	}
	at.TokenString = token
	return &at, true
}

func (c *RedisDecodeCache) Set(token string, at *AuthToken) {
	stored := *at
	stored.TokenString = ""
	data, err := json.Marshal(&stored)
	if err != nil {
		return
	}
	c.rdb.Set(c.ctx, cacheKey(token), data, decodeTTL)
}
