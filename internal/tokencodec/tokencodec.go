// Package tokencodec implements C3 TokenCodec: the bearer-token wire
// format, signing, issuance, and decode/verify pipeline. The wire format
// is normative — re-implementations must produce byte-identical tokens
// given the same inputs and keys.
package tokencodec

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/keyring"
	"github.com/watup-lk/identity-service/internal/tokenregistry"
)

const (
	currentVersion  = "1"
	defaultValidity = 30 * 24 * time.Hour
)

var b64 = base64.RawURLEncoding

// AuthToken is the decoded, verified result of TokenCodec.Decode.
type AuthToken struct {
	UserID      int64
	Expires     time.Time
	Guid        string
	Claims      map[string]any
	TokenString string
	Metadata    tokenregistry.Metadata
}

// Scope returns the claimed scope set, or nil if absent/malformed.
func (t *AuthToken) Scope() []string {
	raw, ok := t.Claims["scope"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type keyProvider interface {
	Active(ctx context.Context, now time.Time) (*keyring.ActiveKey, error)
	Public(ctx context.Context, algorithm string, keyID int64) (*keyring.PublicKeyRecord, error)
}

type registry interface {
	Put(ctx context.Context, guid string, meta tokenregistry.Metadata, ttl time.Duration) error
	Get(ctx context.Context, guid string) (*tokenregistry.Metadata, error)
}

// decodeCache is a small TTL cache over decode results, keyed by the raw
// token string. Negative results (errors) are never cached.
type decodeCache interface {
	Get(token string) (*AuthToken, bool)
	Set(token string, at *AuthToken)
}

// Codec ties KeyRing and TokenRegistry together to issue and decode
// tokens per the §4.2 wire format.
type Codec struct {
	keys     keyProvider
	registry registry
	cache    decodeCache
	now      func() time.Time
}

func New(keys keyProvider, reg registry, cache decodeCache) *Codec {
	return &Codec{keys: keys, registry: reg, cache: cache, now: time.Now}
}

// IssuedToken is everything Issue hands back to the caller.
type IssuedToken struct {
	Version   string
	Algorithm string
	KeyID     int64
	Issued    time.Time
	Expires   time.Time
	Token     string
}

// Issue mints a new token for user_id carrying claims, with an optional
// ttl override (purpose tokens use a short ttl; default is 30 days
// aligned to the key-refresh window).
func (c *Codec) Issue(ctx context.Context, userID int64, claims map[string]any, ttl *time.Duration) (*IssuedToken, error) {
	now := c.now()

	var expires time.Time
	if ttl != nil {
		expires = now.Add(*ttl)
	} else {
		start := now.Truncate(keyring.RefreshInterval)
		expires = start.Add(defaultValidity)
	}
	// The wire format encodes expires as whole seconds (expires.Unix()
	// below); truncate here so the registry's copy matches the value
	// decode() reconstructs via time.Unix(sec, 0) exactly.
	expires = time.Unix(expires.Unix(), 0)

	active, err := c.keys.Active(ctx, now)
	if err != nil {
		return nil, err
	}

	guid := uuid.New()
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "claims encoding failed", err)
	}

	payload := strings.Join([]string{
		keyring.Algorithm,
		b64.EncodeToString(encodeUint(uint64(active.KeyID))),
		b64.EncodeToString(encodeUint(uint64(expires.Unix()))),
		b64.EncodeToString(encodeUint(uint64(userID))),
		b64.EncodeToString(guid[:]),
		string(claimsJSON),
	}, ".")

	content := b64.EncodeToString([]byte(currentVersion)) + "." + b64.EncodeToString([]byte(payload))
	signature := ed25519.Sign(active.Private, []byte(content))
	token := content + "." + b64.EncodeToString(signature)

	meta := tokenregistry.Metadata{
		Guid:      guid.String(),
		State:     tokenregistry.AuthStateActive,
		UserID:    userID,
		KeyID:     active.KeyID,
		Algorithm: keyring.Algorithm,
		Version:   currentVersion,
		Issued:    now,
		Expires:   expires,
	}
	if fp, ok := claims["fp"].(string); ok {
		meta.Fingerprint = []byte(fp)
	}

	ttlRemaining := time.Until(expires)
	if err := c.registry.Put(ctx, guid.String(), meta, ttlRemaining); err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "could not register token", err)
	}

	return &IssuedToken{
		Version:   currentVersion,
		Algorithm: keyring.Algorithm,
		KeyID:     active.KeyID,
		Issued:    now,
		Expires:   expires,
		Token:     token,
	}, nil
}

// Decode verifies and parses a bearer token. Negative outcomes are never
// cached; only a fully verified AuthToken is.
func (c *Codec) Decode(ctx context.Context, token string) (*AuthToken, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(token); ok {
			return cached, nil
		}
	}

	at, err := c.decodeUncached(ctx, token)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(token, at)
	}
	return at, nil
}

func (c *Codec) decodeUncached(ctx context.Context, token string) (*AuthToken, error) {
	lastDot := strings.LastIndex(token, ".")
	if lastDot < 0 {
		return nil, autherr.New(autherr.KindBadRequest, "malformed token")
	}
	content, sigPart := token[:lastDot], token[lastDot+1:]

	firstDot := strings.Index(content, ".")
	if firstDot < 0 {
		return nil, autherr.New(autherr.KindBadRequest, "malformed token")
	}
	versionB64, payloadB64 := content[:firstDot], content[firstDot+1:]

	versionBytes, err := b64.DecodeString(versionB64)
	if err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed token version")
	}
	version := string(versionBytes)
	if version != currentVersion {
		return nil, autherr.New(autherr.KindBadRequest, "unsupported token version")
	}

	payloadBytes, err := b64.DecodeString(payloadB64)
	if err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed token payload")
	}

	parts := strings.SplitN(string(payloadBytes), ".", 6)
	if len(parts) != 6 {
		return nil, autherr.New(autherr.KindBadRequest, "malformed token payload")
	}
	algorithm := parts[0]

	keyIDBytes, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed key id")
	}
	keyID := int64(decodeUint(keyIDBytes))
	if keyID <= 0 {
		return nil, autherr.New(autherr.KindBadRequest, "invalid key id")
	}

	expiresBytes, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed expires")
	}
	expires := time.Unix(int64(decodeUint(expiresBytes)), 0)

	userIDBytes, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed user id")
	}
	userID := int64(decodeUint(userIDBytes))

	guidBytes, err := b64.DecodeString(parts[4])
	if err != nil || len(guidBytes) != 16 {
		return nil, autherr.New(autherr.KindBadRequest, "malformed guid")
	}
	guid, err := uuid.FromBytes(guidBytes)
	if err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed guid")
	}

	now := c.now()
	if now.After(expires) {
		return nil, autherr.New(autherr.KindUnauthorized, "This token is no longer valid.")
	}

	pubRec, err := c.keys.Public(ctx, algorithm, keyID)
	if err != nil {
		return nil, err
	}
	if now.After(pubRec.Expires) {
		return nil, autherr.New(autherr.KindUnauthorized, "signing key has expired")
	}

	if !ed25519.Verify(pubRec.PublicKey, []byte(content), []byte(mustDecode(sigPart))) {
		return nil, autherr.New(autherr.KindUnauthorized, "Key validation failed.")
	}

	meta, err := c.registry.Get(ctx, guid.String())
	if err != nil {
		if err == tokenregistry.ErrNotFound {
			return nil, autherr.New(autherr.KindUnauthorized, "This token is no longer valid.")
		}
		return nil, autherr.Wrap(autherr.KindInternal, "token registry lookup failed", err)
	}
	if meta.State != tokenregistry.AuthStateActive {
		return nil, autherr.New(autherr.KindUnauthorized, "This token has been revoked.")
	}
	if meta.Algorithm != algorithm {
		return nil, autherr.New(autherr.KindUnauthorized, "Token algorithm mismatch.")
	}
	if !meta.Expires.Equal(expires) {
		return nil, autherr.New(autherr.KindUnauthorized, "Token expiry mismatch.")
	}
	if meta.KeyID != keyID {
		return nil, autherr.New(autherr.KindUnauthorized, "Token key mismatch.")
	}

	var claims map[string]any
	if err := json.Unmarshal([]byte(parts[5]), &claims); err != nil {
		return nil, autherr.New(autherr.KindBadRequest, "malformed claims")
	}

	return &AuthToken{
		UserID:      userID,
		Expires:     expires,
		Guid:        guid.String(),
		Claims:      claims,
		TokenString: token,
		Metadata:    *meta,
	}, nil
}

func mustDecode(s string) []byte {
	b, err := b64.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// encodeUint big-endian minimum-width encodes n; zero encodes as
// zero-length, matching the wire format's integer rule.
func encodeUint(n uint64) []byte {
	if n == 0 {
		return nil
	}
	var buf [8]byte
	size := 0
	for v := n; v > 0; v >>= 8 {
		size++
	}
	for i := size - 1; i >= 0; i-- {
		buf[i] = byte(n)
		n >>= 8
	}
	return buf[:size]
}

func decodeUint(b []byte) uint64 {
	var n uint64
	for _, by := range b {
		n = n<<8 | uint64(by)
	}
	return n
}
