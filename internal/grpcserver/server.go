// Package grpcserver exposes the internal IdentityService gRPC surface
// other fuzz.ly services call to validate tokens, revoke a guid, or
// list a user's live sessions without a round-trip through the HTTP BFF.
package grpcserver

import (
	"context"
	"log"

	"github.com/watup-lk/identity-service/internal/identitypb"
	"github.com/watup-lk/identity-service/internal/middleware"
	"github.com/watup-lk/identity-service/internal/tokencodec"
	"github.com/watup-lk/identity-service/internal/tokenregistry"
)

type codec interface {
	Decode(ctx context.Context, token string) (*tokencodec.AuthToken, error)
}

// IdentityServer implements identitypb.Server over TokenCodec and
// TokenRegistry, the same components RequestGate uses for HTTP.
type IdentityServer struct {
	codec    codec
	registry *tokenregistry.Registry
}

func NewIdentityServer(codec codec, registry *tokenregistry.Registry) *IdentityServer {
	return &IdentityServer{codec: codec, registry: registry}
}

// ValidateToken decodes token through the same revocation-aware path
// RequestGate uses, so a gRPC caller and an HTTP caller never disagree
// about whether a token is live.
func (s *IdentityServer) ValidateToken(ctx context.Context, req *identitypb.ValidateTokenRequest) (*identitypb.ValidateTokenResponse, error) {
	if req.Token == "" {
		return &identitypb.ValidateTokenResponse{Valid: false, Error: "token is required"}, nil
	}

	at, err := s.codec.Decode(ctx, req.Token)
	if err != nil {
		log.Printf("[grpc] ValidateToken: invalid token: %v", err)
		return &identitypb.ValidateTokenResponse{Valid: false, Error: "invalid or expired token"}, nil
	}

	return &identitypb.ValidateTokenResponse{Valid: true, UserID: at.UserID, Scope: at.Scope()}, nil
}

// Revoke deletes a token's registry record, the same effect as a
// /v1/account/logout call, for use by moderation tooling acting on
// behalf of a user rather than through their own session.
func (s *IdentityServer) Revoke(ctx context.Context, req *identitypb.RevokeRequest) (*identitypb.RevokeResponse, error) {
	if req.Guid == "" {
		return &identitypb.RevokeResponse{Revoked: false, Error: "guid is required"}, nil
	}
	if err := s.registry.Remove(ctx, req.Guid, req.UserID); err != nil {
		return &identitypb.RevokeResponse{Revoked: false, Error: "revoke failed"}, nil
	}
	middleware.TokensRevoked.Inc()
	return &identitypb.RevokeResponse{Revoked: true}, nil
}

// Lookup lists every live session guid for a user, used by
// revoke-all-on-ban tooling.
func (s *IdentityServer) Lookup(ctx context.Context, req *identitypb.LookupRequest) (*identitypb.LookupResponse, error) {
	guids, err := s.registry.ListByUser(ctx, req.UserID)
	if err != nil {
		return &identitypb.LookupResponse{Error: "lookup failed"}, nil
	}
	return &identitypb.LookupResponse{Guids: guids}, nil
}
