package tokencodec_test

import (
	"context"
	"testing"
	"time"

	"github.com/watup-lk/identity-service/internal/authtest"
	"github.com/watup-lk/identity-service/internal/keyring"
	"github.com/watup-lk/identity-service/internal/tokencodec"
	"github.com/watup-lk/identity-service/internal/tokenregistry"
)

func TestIssueThenDecode_RoundTrips(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)
	ctx := context.Background()

	issued, err := codec.Issue(ctx, 7, map[string]any{"scope": []any{"user"}}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Version != "1" {
		t.Errorf("version = %q, want \"1\"", issued.Version)
	}
	if issued.Algorithm != "ed25519" {
		t.Errorf("algorithm = %q, want ed25519", issued.Algorithm)
	}

	at, err := codec.Decode(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if at.UserID != 7 {
		t.Errorf("decoded user id = %d, want 7", at.UserID)
	}
	scopes := at.Scope()
	if len(scopes) != 1 || scopes[0] != "user" {
		t.Errorf("decoded scope = %v, want [user]", scopes)
	}
}

func TestDecode_MalformedToken(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)

	if _, err := codec.Decode(context.Background(), "not.a.token"); err == nil {
		t.Fatal("expected an error decoding a malformed token")
	}
}

func TestDecode_TamperedSignatureRejected(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)
	ctx := context.Background()

	issued, err := codec.Issue(ctx, 7, map[string]any{"scope": []any{"user"}}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := issued.Token[:len(issued.Token)-4] + "AAAA"
	if _, err := codec.Decode(ctx, tampered); err == nil {
		t.Fatal("expected decode to reject a tampered signature")
	}
}

func TestIssue_TTLOverrideShortensExpiry(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)
	ctx := context.Background()

	ttl := 15 * time.Minute
	issued, err := codec.Issue(ctx, 1, map[string]any{"key": "create-account"}, &ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	want := issued.Issued.Truncate(time.Second).Add(ttl)
	if !issued.Expires.Equal(want) {
		t.Errorf("expires = %v, want %v", issued.Expires, want)
	}
}

// TestDecode_RevokedTokenRejected decodes with no result cache in front of
// the registry, since the real 30s decode cache intentionally lets a
// revocation take up to its TTL to be observed (§4.2) — this test isolates
// the registry-consulting path itself.
func TestDecode_RevokedTokenRejected(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	registry := tokenregistry.New(rdb)
	codec := tokencodec.New(keyring.New(repo), registry, nil)
	ctx := context.Background()

	issued, err := codec.Issue(ctx, 1, map[string]any{"scope": []any{"user"}}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	at, err := codec.Decode(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Decode before revoke: %v", err)
	}
	if err := registry.Remove(ctx, at.Guid, at.UserID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := codec.Decode(ctx, issued.Token); err == nil {
		t.Fatal("expected decode to fail for a revoked token")
	}
}
