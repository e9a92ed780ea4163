// Package keyring implements C2 KeyRing: generation, persistence, caching,
// and validity-window enforcement for Ed25519 signing keys.
package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/repository"
)

const Algorithm = "ed25519"

// RefreshInterval is a system-wide constant: changing it breaks the
// "independent processes agree on the active window" property.
const RefreshInterval = 24 * time.Hour

const refreshInterval = RefreshInterval

// ActiveKey is the in-memory-only signing key currently minting tokens.
type ActiveKey struct {
	Private       ed25519.PrivateKey
	KeyID         int64
	Issued        time.Time
	ValidityStart time.Time
	ValidityEnd   time.Time
}

// PublicKeyRecord is the self-signed public half of a SigningKeyRecord.
type PublicKeyRecord struct {
	KeyID     int64
	Algorithm string
	PublicKey ed25519.PublicKey
	Signature []byte
	Issued    time.Time
	Expires   time.Time
}

type store interface {
	InsertSigningKey(ctx context.Context, algorithm string, publicKey, signature []byte) (*repository.SigningKeyRow, error)
	FindSigningKey(ctx context.Context, algorithm string, keyID int64) (*repository.SigningKeyRow, error)
}

// KeyRing caches the process's ActiveKey and a monotonic (never-deletes)
// ring of verified public keys.
type KeyRing struct {
	repo store

	mu     sync.Mutex
	active *ActiveKey

	publicMu sync.RWMutex
	public   map[int64]*PublicKeyRecord
}

func New(repo store) *KeyRing {
	return &KeyRing{repo: repo, public: make(map[int64]*PublicKeyRecord)}
}

// Active returns the key currently minting tokens, rotating if the cached
// one has fallen outside its validity window.
func (k *KeyRing) Active(ctx context.Context, now time.Time) (*ActiveKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.active != nil && !now.Before(k.active.ValidityStart) && now.Before(k.active.ValidityEnd) {
		return k.active, nil
	}

	start := now.Truncate(refreshInterval)
	end := start.Add(refreshInterval)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "key generation failed", err)
	}

	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "public key encoding failed", err)
	}
	signature := ed25519.Sign(priv, spki)

	row, err := k.repo.InsertSigningKey(ctx, Algorithm, spki, signature)
	if err != nil {
		refID := fmt.Sprintf("keyring-%d", now.UnixNano())
		log.Printf("[keyring] refid=%s insert signing key failed: %v", refID, err)
		return nil, &autherr.Error{Kind: autherr.KindInternal, Message: "could not persist signing key", RefID: refID}
	}

	active := &ActiveKey{
		Private:       priv,
		KeyID:         row.KeyID,
		Issued:        row.Issued,
		ValidityStart: start,
		ValidityEnd:   end,
	}
	k.active = active

	k.publicMu.Lock()
	k.public[row.KeyID] = &PublicKeyRecord{
		KeyID:     row.KeyID,
		Algorithm: Algorithm,
		PublicKey: ed25519.PublicKey(pub),
		Signature: signature,
		Issued:    row.Issued,
		Expires:   row.Expires,
	}
	k.publicMu.Unlock()

	return active, nil
}

// Public returns the verified public key for (algorithm, keyID), consulting
// the in-process cache before the store. Tokens outlive the active key's
// signing window by design, so this must stay fetchable for up to 30 days.
func (k *KeyRing) Public(ctx context.Context, algorithm string, keyID int64) (*PublicKeyRecord, error) {
	k.publicMu.RLock()
	if rec, ok := k.public[keyID]; ok && rec.Algorithm == algorithm {
		k.publicMu.RUnlock()
		return rec, nil
	}
	k.publicMu.RUnlock()

	row, err := k.repo.FindSigningKey(ctx, algorithm, keyID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, autherr.New(autherr.KindNotFound, "signing key not found")
		}
		refID := fmt.Sprintf("keyring-pub-%d", keyID)
		log.Printf("[keyring] refid=%s fetch public key failed: %v", refID, err)
		return nil, &autherr.Error{Kind: autherr.KindInternal, Message: "could not fetch signing key", RefID: refID}
	}

	pub, err := x509.ParsePKIXPublicKey(row.PublicKey)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "stored public key is malformed", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, autherr.New(autherr.KindInternal, "stored public key is not ed25519")
	}

	// Self-signature MUST verify before the record is trusted or cached;
	// a failed verification is never cached.
	if !ed25519.Verify(edPub, row.PublicKey, row.Signature) {
		return nil, autherr.New(autherr.KindUnauthorized, "signing key self-signature invalid")
	}

	rec := &PublicKeyRecord{
		KeyID:     row.KeyID,
		Algorithm: row.Algorithm,
		PublicKey: edPub,
		Signature: row.Signature,
		Issued:    row.Issued,
		Expires:   row.Expires,
	}

	k.publicMu.Lock()
	k.public[keyID] = rec
	k.publicMu.Unlock()

	return rec, nil
}
