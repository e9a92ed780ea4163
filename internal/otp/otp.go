// Package otp implements C6 OtpStore: TOTP secret envelope encryption and
// recovery-code issuance/single-use consumption.
package otp

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pquerna/otp/totp"

	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/password"
	"github.com/watup-lk/identity-service/internal/repository"
	"github.com/watup-lk/identity-service/internal/secretstore"
)

const recoveryCodeCount = 16

type repo interface {
	EmailHashExists(ctx context.Context, userID int64, emailHash []byte) (bool, error)
	InsertOtpEnrollment(ctx context.Context, otp repository.OtpRow, codes []repository.OtpRecoveryRow) error
	FindRecoveryCode(ctx context.Context, userID int64, keyID int16) (*repository.OtpRecoveryRow, error)
	DeleteRecoveryCode(ctx context.Context, userID int64, keyID int16) error
	DeleteOtp(ctx context.Context, userID int64) error
}

// Store implements OTP enrollment, login-time verification, and removal.
type Store struct {
	secrets *secretstore.SecretStore
	hasher  *password.Hasher
	repo    repo
}

func New(secrets *secretstore.SecretStore, hasher *password.Hasher, repo repo) *Store {
	return &Store{secrets: secrets, hasher: hasher, repo: repo}
}

// GenerateSecret returns a fresh base32 TOTP secret for provisioning.
func GenerateSecret(issuer, accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: accountName})
	if err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "could not generate otp secret", err)
	}
	return key.Secret(), nil
}

// ValidateCode checks a 6-digit TOTP code against the plaintext secret.
func ValidateCode(code, secret string) bool {
	return totp.Validate(code, secret)
}

// Add enrolls OTP for a user: verifies the code against otpSecret, confirms
// the (email_hash, user_id) row, encrypts the secret, and issues 16
// recovery codes in one transaction. Returns the recovery codes exactly
// once — they are never retrievable again.
func (s *Store) Add(ctx context.Context, userID int64, email string, emailHash []byte, otpSecret, otpCode string) ([]string, error) {
	if !ValidateCode(otpCode, otpSecret) {
		return nil, autherr.New(autherr.KindBadRequest, "invalid otp code")
	}

	exists, err := s.repo.EmailHashExists(ctx, userID, emailHash)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "otp enrollment lookup failed", err)
	}
	if !exists {
		return nil, autherr.New(autherr.KindBadRequest, "unknown account")
	}

	secretIndex, err := s.secrets.RandomIndex()
	if err != nil {
		return nil, err
	}
	key := deriveKey(email, s.secrets.Get(secretIndex))
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "nonce generation failed", err)
	}
	ciphertext, err := encrypt(key, nonce, []byte(otpSecret), s.secrets.Get(secretIndex))
	if err != nil {
		return nil, err
	}

	codes := make([]string, recoveryCodeCount)
	rows := make([]repository.OtpRecoveryRow, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		plain, err := generateRecoveryCode(i)
		if err != nil {
			return nil, err
		}
		codeSecretIndex, err := s.secrets.RandomIndex()
		if err != nil {
			return nil, err
		}

		codes[i] = plain
		rows[i] = repository.OtpRecoveryRow{
			UserID:      userID,
			KeyID:       int16(i),
			SecretIndex: int16(codeSecretIndex),
			RecoveryKey: s.hasher.RawAt(plain, codeSecretIndex),
		}
	}

	otpRow := repository.OtpRow{UserID: userID, SecretIndex: int16(secretIndex), Nonce: nonce, Ciphertext: ciphertext}
	if err := s.repo.InsertOtpEnrollment(ctx, otpRow, rows); err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "could not persist otp enrollment", err)
	}

	return codes, nil
}

// Decrypt recovers the plaintext TOTP secret from an OtpRow.
func (s *Store) Decrypt(email string, row *repository.OtpRow) (string, error) {
	pepper := s.secrets.Get(int(row.SecretIndex))
	key := deriveKey(email, pepper)
	plain, err := decrypt(key, row.Nonce, row.Ciphertext, pepper)
	if err != nil {
		return "", autherr.New(autherr.KindUnauthorized, "could not decrypt otp secret")
	}
	return string(plain), nil
}

// DeferredDeletion is returned by VerifyRecoveryCode: the login path must
// invoke it only after every other check succeeds, enforcing single use
// without deleting a code that turned out not to be needed.
type DeferredDeletion func(context.Context) error

// VerifyRecoveryCode checks otp as a recovery code (key_id = otp[0]&0x0f)
// and returns a closure to delete it on success. It does not delete the
// code itself — the caller decides when all other checks have passed.
func (s *Store) VerifyRecoveryCode(ctx context.Context, userID int64, otp string) (DeferredDeletion, error) {
	raw, err := hex.DecodeString(otp)
	if err != nil || len(raw) == 0 {
		return nil, autherr.FailedLogin()
	}
	keyID := int16(raw[0] & 0x0f)

	row, err := s.repo.FindRecoveryCode(ctx, userID, keyID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, autherr.FailedLogin()
		}
		return nil, autherr.Wrap(autherr.KindInternal, "recovery code lookup failed", err)
	}

	if !s.hasher.VerifyRawAt(otp, int(row.SecretIndex), row.RecoveryKey) {
		return nil, autherr.FailedLogin()
	}

	return func(ctx context.Context) error {
		return s.repo.DeleteRecoveryCode(ctx, userID, keyID)
	}, nil
}

// Remove deletes the OTP record (but not recovery codes) for a user.
func (s *Store) Remove(ctx context.Context, userID int64) error {
	return s.repo.DeleteOtp(ctx, userID)
}

func deriveKey(email string, pepper []byte) []byte {
	sum := sha256.Sum256(append([]byte(email), pepper...))
	return sum[:]
}

func encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "otp cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "otp gcm init failed", err)
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

func decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, aad)
}

// generateRecoveryCode builds a 6-byte code whose first byte's low nibble
// is keyID and whose remaining 5 bytes (and the first byte's high nibble)
// are random.
func generateRecoveryCode(keyID int) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "recovery code generation failed", err)
	}
	buf[0] = (buf[0] & 0xf0) | byte(keyID&0x0f)
	return hex.EncodeToString(buf), nil
}
