// Package secretstore holds the process-wide pepper list used by password
// hashing, email hashing, and OTP envelope key derivation.
package secretstore

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// SecretStore is a small ordered, fixed-for-the-process-lifetime list of
// server-side salt secrets ("peppers"). Order is load-bearing: index 0 is
// used for every deterministic hash (email lookups); other indices are
// chosen uniformly when a fresh hash is created.
type SecretStore struct {
	secrets [][]byte
}

// New wraps a pepper list loaded from config/Key Vault. len(secrets) must
// be >= 1; callers are expected to fail fast at startup otherwise.
func New(secrets [][]byte) (*SecretStore, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("secretstore: at least one secret is required")
	}
	cp := make([][]byte, len(secrets))
	copy(cp, secrets)
	return &SecretStore{secrets: cp}, nil
}

// Len returns the number of configured peppers.
func (s *SecretStore) Len() int { return len(s.secrets) }

// Get returns the pepper at index i. Panics on out-of-range i since every
// caller derives i from either RandomIndex or a stored secret_index column
// that must already be in range.
func (s *SecretStore) Get(i int) []byte {
	return s.secrets[i]
}

// RandomIndex picks a uniformly random index in [0, Len()) using a CSPRNG,
// matching the "pick a fresh pepper" requirement for every new hash.
func (s *SecretStore) RandomIndex() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(s.secrets))))
	if err != nil {
		return 0, fmt.Errorf("secretstore: random index: %w", err)
	}
	return int(n.Int64()), nil
}
