// Package tokenregistry implements C4 TokenRegistry: the KV-backed record
// of every live token. A missing record means "revoked or expired" — the
// registry is never the sole store of token-derived rights, but it is the
// single source of truth for revocation.
package tokenregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("tokenregistry: not found")

const (
	AuthStateActive   = "active"
	AuthStateInactive = "inactive"
)

// Metadata mirrors the TokenMetadata entity of §3.
type Metadata struct {
	Guid        string    `json:"guid"`
	State       string    `json:"state"`
	UserID      int64     `json:"user_id"`
	KeyID       int64     `json:"key_id"`
	Algorithm   string    `json:"algorithm"`
	Version     string    `json:"version"`
	Issued      time.Time `json:"issued"`
	Expires     time.Time `json:"expires"`
	Fingerprint []byte    `json:"fingerprint,omitempty"`
}

// Registry is a thin wrapper over Redis implementing put/get/remove plus a
// user_id secondary index (a Redis set per user, mirroring the source's
// `index={'user_id': ...}` secondary-index convention).
type Registry struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func key(guid string) string     { return "auth:token:" + guid }
func userKey(userID int64) string { return "auth:token:by_user:" + strconv.FormatInt(userID, 10) }

// Put inserts meta with record TTL = ttl and adds guid to the user's
// secondary index set (also expired via ttl so the index never outlives
// its tokens).
func (r *Registry) Put(ctx context.Context, guid string, meta Metadata, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("tokenregistry: encode metadata: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, key(guid), data, ttl)
	pipe.SAdd(ctx, userKey(meta.UserID), guid)
	pipe.Expire(ctx, userKey(meta.UserID), ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenregistry: put: %w", err)
	}
	return nil
}

// Get returns the record for guid, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, guid string) (*Metadata, error) {
	data, err := r.rdb.Get(ctx, key(guid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tokenregistry: get: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("tokenregistry: decode metadata: %w", err)
	}
	return &meta, nil
}

// Remove deletes the guid's record. Idempotent: removing an absent guid
// is not an error (logout/revoke may race with natural expiry).
func (r *Registry) Remove(ctx context.Context, guid string, userID int64) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key(guid))
	pipe.SRem(ctx, userKey(userID), guid)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenregistry: remove: %w", err)
	}
	return nil
}

// ListByUser returns every live token guid for a user, for administrative
// listing/revocation.
func (r *Registry) ListByUser(ctx context.Context, userID int64) ([]string, error) {
	guids, err := r.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("tokenregistry: list by user: %w", err)
	}
	return guids, nil
}
