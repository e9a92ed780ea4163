package grpcserver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/watup-lk/identity-service/internal/grpcserver"
	"github.com/watup-lk/identity-service/internal/identitypb"
	"github.com/watup-lk/identity-service/internal/tokencodec"
)

// ── Mock Codec ───────────────────────────────────────────────────────────────

type mockCodec struct {
	tokens map[string]*tokencodec.AuthToken
}

func (m *mockCodec) Decode(_ context.Context, token string) (*tokencodec.AuthToken, error) {
	at, ok := m.tokens[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return at, nil
}

// ── Mock Registry ────────────────────────────────────────────────────────────
//
// tokenregistry.Registry is a concrete struct wrapping *redis.Client, so
// it can't be faked behind an interface here; Revoke/Lookup are
// exercised against a real registry in an integration setting. These
// tests stick to ValidateToken, which only depends on codec.

func newTestServer(tokens map[string]*tokencodec.AuthToken) *grpcserver.IdentityServer {
	return grpcserver.NewIdentityServer(&mockCodec{tokens: tokens}, nil)
}

func TestValidateToken_EmptyToken(t *testing.T) {
	srv := newTestServer(nil)
	resp, err := srv.ValidateToken(context.Background(), &identitypb.ValidateTokenRequest{Token: ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Valid {
		t.Error("expected Valid=false for empty token")
	}
	if resp.Error == "" {
		t.Error("expected error message")
	}
}

func TestValidateToken_InvalidToken(t *testing.T) {
	srv := newTestServer(nil)
	resp, err := srv.ValidateToken(context.Background(), &identitypb.ValidateTokenRequest{Token: "garbage"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Valid {
		t.Error("expected Valid=false for invalid token")
	}
}

func TestValidateToken_ValidToken(t *testing.T) {
	at := &tokencodec.AuthToken{UserID: 42, Claims: map[string]any{"scope": []any{"user"}}}
	srv := newTestServer(map[string]*tokencodec.AuthToken{"good-token": at})

	resp, err := srv.ValidateToken(context.Background(), &identitypb.ValidateTokenRequest{Token: "good-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Valid {
		t.Error("expected Valid=true for a known token")
	}
	if resp.UserID != 42 {
		t.Errorf("expected user_id 42, got %d", resp.UserID)
	}
}
