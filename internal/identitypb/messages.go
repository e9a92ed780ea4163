// Package identitypb defines the internal gRPC surface other fuzz.ly
// services use to validate tokens without going through the HTTP BFF.
//
// The teacher's own gRPC surface (internal/grpcserver) is protoc-generated
// against a checked-in-elsewhere `api/proto/v1` package that isn't part of
// this retrieval pack — only the generated call sites are. With no .proto
// source or protoc-gen-go output to adapt, and no safe way to hand-author
// protoc's internal descriptor wiring without a working protoc/go
// toolchain to verify it against, these are plain Go structs carried over
// gRPC with a JSON codec (see codec.go) instead. Real .proto generation
// remains the on-ramp if this ever gets a toolchain run against it; the
// `google.golang.org/protobuf` module stays in go.mod only as grpc's own
// transitive dependency, not as something this package uses directly.
package identitypb

// ValidateTokenRequest asks whether token is still live and, if so, who
// it belongs to and what scope it carries.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

type ValidateTokenResponse struct {
	Valid  bool     `json:"valid"`
	UserID int64    `json:"user_id,omitempty"`
	Scope  []string `json:"scope,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// RevokeRequest invalidates a single live token by guid.
type RevokeRequest struct {
	Guid   string `json:"guid"`
	UserID int64  `json:"user_id"`
}

type RevokeResponse struct {
	Revoked bool   `json:"revoked"`
	Error   string `json:"error,omitempty"`
}

// LookupRequest returns every live token guid for a user — used by
// moderation tooling to revoke-all on a ban.
type LookupRequest struct {
	UserID int64 `json:"user_id"`
}

type LookupResponse struct {
	Guids []string `json:"guids"`
	Error string   `json:"error,omitempty"`
}
