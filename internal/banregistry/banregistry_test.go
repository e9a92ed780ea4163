package banregistry_test

import (
	"context"
	"testing"

	"github.com/watup-lk/identity-service/internal/authtest"
	"github.com/watup-lk/identity-service/internal/banregistry"
)

func TestUserBan_ReturnsActiveBan(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	registry := banregistry.New(repo, rdb, []byte("ip-salt"))
	ctx := context.Background()

	repo.BanUser(7, "perma", "spam")

	ban, err := registry.UserBan(ctx, 7)
	if err != nil {
		t.Fatalf("UserBan: %v", err)
	}
	if ban == nil {
		t.Fatal("expected an active ban")
	}
	if ban.BanType != "perma" || ban.Reason != "spam" {
		t.Errorf("ban = %+v, want type perma reason spam", ban)
	}
}

func TestUserBan_NoBanReturnsNilWithoutError(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	registry := banregistry.New(repo, rdb, []byte("ip-salt"))

	ban, err := registry.UserBan(context.Background(), 42)
	if err != nil {
		t.Fatalf("UserBan: %v", err)
	}
	if ban != nil {
		t.Errorf("expected no ban, got %+v", ban)
	}
}

func TestUserBan_NegativeResultIsCached(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	registry := banregistry.New(repo, rdb, []byte("ip-salt"))
	ctx := context.Background()

	if _, err := registry.UserBan(ctx, 42); err != nil {
		t.Fatalf("UserBan: %v", err)
	}
	// Ban the user directly in the backing store without going through the
	// registry — if the negative result weren't cached this would still
	// read through, so banning afterward and re-reading proves the cache
	// is consulted first.
	repo.BanUser(42, "perma", "spam")

	ban, err := registry.UserBan(ctx, 42)
	if err != nil {
		t.Fatalf("UserBan: %v", err)
	}
	if ban != nil {
		t.Error("expected the cached negative result to still apply")
	}
}

func TestIPBan_ReturnsActiveBanByHashedIP(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	registry := banregistry.New(repo, rdb, []byte("ip-salt"))
	ctx := context.Background()

	repo.BanIP(registry.HashIP("1.2.3.4"), "ip", "abuse")

	ban, err := registry.IPBan(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("IPBan: %v", err)
	}
	if ban == nil || ban.BanType != "ip" {
		t.Errorf("ban = %+v, want an ip ban", ban)
	}
}

func TestRecordIPBan_InvalidatesCache(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	registry := banregistry.New(repo, rdb, []byte("ip-salt"))
	ctx := context.Background()

	if _, err := registry.IPBan(ctx, "5.6.7.8"); err != nil {
		t.Fatalf("IPBan: %v", err)
	}

	if err := registry.RecordIPBan(ctx, "5.6.7.8", 99); err != nil {
		t.Fatalf("RecordIPBan: %v", err)
	}

	ban, err := registry.IPBan(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("IPBan after record: %v", err)
	}
	if ban == nil {
		t.Fatal("expected the freshly recorded ban to be visible after cache invalidation")
	}
}
