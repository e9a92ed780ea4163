package authtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/watup-lk/identity-service/internal/keyring"
	"github.com/watup-lk/identity-service/internal/tokencodec"
	"github.com/watup-lk/identity-service/internal/tokenregistry"
)

// NewRedis starts an in-process miniredis instance and returns a client
// pointed at it, closing both when the test ends.
func NewRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// NewCodec wires a real KeyRing (over repo), TokenRegistry, and decode
// cache (both over rdb) into a real *tokencodec.Codec — the same
// component graph main.go builds, minus Postgres.
func NewCodec(repo *FakeRepo, rdb *redis.Client) (*tokencodec.Codec, *tokenregistry.Registry) {
	rings := keyring.New(repo)
	registry := tokenregistry.New(rdb)
	cache := tokencodec.NewRedisDecodeCache(rdb)
	return tokencodec.New(rings, registry, cache), registry
}
