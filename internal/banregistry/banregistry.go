// Package banregistry implements C9 BanRegistry: cached reads of
// moderation bans by user_id and salted-hash IP.
package banregistry

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/watup-lk/identity-service/internal/repository"
)

// Ban is the read-side view of a Ban row.
type Ban struct {
	BanID   int64
	BanType string
	UserID  int64
	Reason  string
}

type repo interface {
	ActiveUserBan(ctx context.Context, userID int64) (*repository.BanRow, error)
	FindIPBan(ctx context.Context, ipHash []byte) (*repository.BanRow, error)
	RecordIPBan(ctx context.Context, ipHash []byte, banID int64) error
}

const (
	negativeTTL = 5 * time.Minute
	positiveTTL = 1 * time.Minute
)

// negativeMarker distinguishes "cached miss" from "cache empty" in Redis.
const negativeMarker = "-"

// Registry reads bans through a Redis cache; writes (RecordIPBan)
// invalidate the relevant cache entry.
type Registry struct {
	repo repo
	rdb  *redis.Client
	salt []byte
}

func New(repo repo, rdb *redis.Client, ipSalt []byte) *Registry {
	return &Registry{repo: repo, rdb: rdb, salt: ipSalt}
}

// HashIP salts and SHA-1 hashes an IP address — IP bans are looked up by
// hash, never by plaintext IP.
func (r *Registry) HashIP(ip string) []byte {
	h := sha1.New()
	h.Write([]byte(ip))
	h.Write(r.salt)
	return h.Sum(nil)
}

func userCacheKey(userID int64) string { return "auth:ban:user:" + strconv.FormatInt(userID, 10) }
func ipCacheKey(ipHash []byte) string   { return "auth:ban:ip:" + hex.EncodeToString(ipHash) }

// UserBan returns the active ban for a user_id, caching both hits and
// misses so repeated requests from the same user don't repeatedly hit
// the database.
func (r *Registry) UserBan(ctx context.Context, userID int64) (*Ban, error) {
	key := userCacheKey(userID)
	if cached, ok := r.readCache(ctx, key); ok {
		return cached, nil
	}

	row, err := r.repo.ActiveUserBan(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.writeCache(ctx, key, nil, negativeTTL)
			return nil, nil
		}
		return nil, err
	}

	ban := &Ban{BanID: row.BanID, BanType: row.BanType, UserID: row.UserID, Reason: row.Reason}
	r.writeCache(ctx, key, ban, positiveTTL)
	return ban, nil
}

// IPBan returns the active ban for a raw IP address, hashing it first.
// Absent IPs cache a negative result to avoid repeated DB hits under
// scraping/credential-stuffing traffic.
func (r *Registry) IPBan(ctx context.Context, ip string) (*Ban, error) {
	ipHash := r.HashIP(ip)
	key := ipCacheKey(ipHash)
	if cached, ok := r.readCache(ctx, key); ok {
		return cached, nil
	}

	row, err := r.repo.FindIPBan(ctx, ipHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.writeCache(ctx, key, nil, negativeTTL)
			return nil, nil
		}
		return nil, err
	}

	ban := &Ban{BanID: row.BanID, BanType: row.BanType, UserID: row.UserID, Reason: row.Reason}
	r.writeCache(ctx, key, ban, positiveTTL)
	return ban, nil
}

// RecordIPBan persists the ip_hash -> ban_id mapping the first time an
// IP-banned user is observed from that address, and invalidates the
// cache entry so the next IPBan call reflects it immediately.
func (r *Registry) RecordIPBan(ctx context.Context, ip string, banID int64) error {
	ipHash := r.HashIP(ip)
	if err := r.repo.RecordIPBan(ctx, ipHash, banID); err != nil {
		return err
	}
	r.rdb.Del(ctx, ipCacheKey(ipHash))
	return nil
}

func (r *Registry) readCache(ctx context.Context, key string) (*Ban, bool) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	if string(data) == negativeMarker {
		return nil, true
	}
	var ban Ban
	if err := json.Unmarshal(data, &ban); err != nil {
		return nil, false
	}
	return &ban, true
}

func (r *Registry) writeCache(ctx context.Context, key string, ban *Ban, ttl time.Duration) {
	if ban == nil {
		r.rdb.Set(ctx, key, negativeMarker, ttl)
		return
	}
	data, err := json.Marshal(ban)
	if err != nil {
		return
	}
	r.rdb.Set(ctx, key, data, ttl)
}
