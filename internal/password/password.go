// Package password implements C5 PasswordHasher: Argon2id hashing with
// pepper rotation and rehash-on-verify.
package password

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/watup-lk/identity-service/internal/config"
	"github.com/watup-lk/identity-service/internal/secretstore"
)

const encodedFormat = "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"

// Hasher hashes and verifies passwords against secretstore peppers.
type Hasher struct {
	secrets *secretstore.SecretStore
	params  config.Argon2Params
}

func New(secrets *secretstore.SecretStore, params config.Argon2Params) *Hasher {
	return &Hasher{secrets: secrets, params: params}
}

// Hash produces an Argon2id-encoded hash of password || secrets[i] for a
// freshly chosen pepper index i, returning the encoded hash and the index
// the caller must persist alongside it (secret_index).
func (h *Hasher) Hash(password string) (encoded string, secretIndex int, err error) {
	i, err := h.secrets.RandomIndex()
	if err != nil {
		return "", 0, err
	}
	return h.hashWithIndex(password, i, h.params), i, nil
}

func (h *Hasher) hashWithIndex(password string, i int, params config.Argon2Params) string {
	// salt doubles as the pepper (spec §4.4 only requires password||secrets[i]
	// as input), so it's fixed per secret_index rather than random per hash.
	// Verify can reconstruct it from the stored index alone; a per-hash random
	// salt would be stronger but would need to be stored alongside the hash.
	salt := h.secrets.Get(i)
	key := argon2.IDKey(append([]byte(password), salt...), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return fmt.Sprintf(encodedFormat, argon2.Version, params.Memory, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key))
}

// Verify checks password against an Argon2id hash created with pepper
// secretIndex. It returns ok=true/false (never an error for a mismatch —
// the FailedLogin mapping happens at the caller, keeping this component's
// text pepper-agnostic) and rehash=true when the stored parameters are
// below the hasher's current policy, so the caller can persist a fresh
// hash with the current cost parameters.
func (h *Hasher) Verify(password, encoded string, secretIndex int) (ok bool, rehash bool, err error) {
	params, _, key, err := parseEncoded(encoded)
	if err != nil {
		return false, false, err
	}

	salt := h.secrets.Get(secretIndex)
	candidate := argon2.IDKey(append([]byte(password), salt...), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))

	match := subtle.ConstantTimeCompare(candidate, key) == 1
	if !match {
		return false, false, nil
	}

	needsRehash := params.Time < h.params.Time || params.Memory < h.params.Memory ||
		params.Threads < h.params.Threads || uint32(len(key)) < h.params.KeyLen
	return true, needsRehash, nil
}

// Rehash re-encodes password under the hasher's current policy with a
// freshly chosen pepper, for use immediately after a successful Verify
// that reported rehash=true.
func (h *Hasher) Rehash(password string) (encoded string, secretIndex int, err error) {
	return h.Hash(password)
}

// RawAt returns the raw Argon2id key (no encoding envelope) of
// input || secrets[index], for callers that store their own compact
// representation — recovery codes in particular, which persist only the
// digest bytes rather than a full `$argon2id$...` string.
func (h *Hasher) RawAt(input string, index int) []byte {
	salt := h.secrets.Get(index)
	return argon2.IDKey(append([]byte(input), salt...), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
}

// VerifyRawAt constant-time compares input || secrets[index] against a
// digest previously produced by RawAt.
func (h *Hasher) VerifyRawAt(input string, index int, stored []byte) bool {
	return subtle.ConstantTimeCompare(h.RawAt(input, index), stored) == 1
}

func parseEncoded(encoded string) (params config.Argon2Params, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, fmt.Errorf("password: malformed encoded hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("password: malformed version: %w", err)
	}
	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return params, nil, nil, fmt.Errorf("password: malformed params: %w", err)
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("password: malformed salt: %w", err)
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("password: malformed key: %w", err)
	}
	params = config.Argon2Params{Time: time, Memory: memory, Threads: threads, KeyLen: uint32(len(key))}
	return params, salt, key, nil
}
