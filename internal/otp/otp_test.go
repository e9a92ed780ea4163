package otp_test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/watup-lk/identity-service/internal/authtest"
	"github.com/watup-lk/identity-service/internal/config"
	"github.com/watup-lk/identity-service/internal/otp"
	"github.com/watup-lk/identity-service/internal/password"
	"github.com/watup-lk/identity-service/internal/repository"
	"github.com/watup-lk/identity-service/internal/secretstore"
)

func totpCodeFor(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

func newTestStore(t *testing.T) (*otp.Store, *authtest.FakeRepo, *secretstore.SecretStore) {
	t.Helper()
	repo := authtest.New()
	secrets, err := secretstore.New([][]byte{[]byte("pepper-one"), []byte("pepper-two")})
	if err != nil {
		t.Fatalf("secretstore.New: %v", err)
	}
	hasher := password.New(secrets, config.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 16})
	return otp.New(secrets, hasher, repo), repo, secrets
}

func emailHash(email string) []byte {
	sum := sha256.Sum256([]byte(email))
	return sum[:]
}

func TestAdd_EnrollsAndReturnsSixteenRecoveryCodes(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	const email = "lain@example.com"
	hash := emailHash(email)
	repo.CreateUser(ctx, "lain", "Lain", hash, []byte("irrelevant"), 0)
	userID, err := repo.FindLoginByEmailHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindLoginByEmailHash: %v", err)
	}

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	code, err := totpCodeFor(secret)
	if err != nil {
		t.Fatalf("totpCodeFor: %v", err)
	}

	codes, err := store.Add(ctx, userID.UserID, email, hash, secret, code)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(codes) != 16 {
		t.Fatalf("got %d recovery codes, want 16", len(codes))
	}
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			t.Fatalf("duplicate recovery code %q", c)
		}
		seen[c] = true
	}
}

func TestAdd_RejectsWrongTotpCode(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	const email = "lain@example.com"
	hash := emailHash(email)
	repo.CreateUser(ctx, "lain", "Lain", hash, []byte("irrelevant"), 0)
	userID, _ := repo.FindLoginByEmailHash(ctx, hash)

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	if _, err := store.Add(ctx, userID.UserID, email, hash, secret, "000000"); err == nil {
		t.Fatal("expected an error for a wrong totp code")
	}
}

func TestAdd_UnknownAccountRejected(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	secret, err := otp.GenerateSecret("fuzz.ly", "ghost@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	code, err := totpCodeFor(secret)
	if err != nil {
		t.Fatalf("totpCodeFor: %v", err)
	}

	if _, err := store.Add(ctx, 999, "ghost@example.com", emailHash("ghost@example.com"), secret, code); err == nil {
		t.Fatal("expected an error enrolling an unknown account")
	}
}

func TestDecrypt_RoundTripsThroughLoginJoinRow(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	const email = "lain@example.com"
	hash := emailHash(email)
	repo.CreateUser(ctx, "lain", "Lain", hash, []byte("irrelevant"), 0)
	userID, _ := repo.FindLoginByEmailHash(ctx, hash)

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	code, err := totpCodeFor(secret)
	if err != nil {
		t.Fatalf("totpCodeFor: %v", err)
	}
	if _, err := store.Add(ctx, userID.UserID, email, hash, secret, code); err != nil {
		t.Fatalf("Add: %v", err)
	}

	row, err := repo.FindLoginByEmailHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindLoginByEmailHash: %v", err)
	}
	if !row.OtpEnrolled {
		t.Fatal("expected OtpEnrolled to be set after Add")
	}

	stored := &repository.OtpRow{
		UserID:      row.UserID,
		SecretIndex: row.OtpSecretIndex.Int16,
		Nonce:       row.OtpNonce,
		Ciphertext:  row.OtpCiphertext,
	}
	decrypted, err := store.Decrypt(email, stored)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != secret {
		t.Errorf("decrypted secret = %q, want %q", decrypted, secret)
	}
}

func TestVerifyRecoveryCode_SingleUseViaDeferredDeletion(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	const email = "lain@example.com"
	hash := emailHash(email)
	repo.CreateUser(ctx, "lain", "Lain", hash, []byte("irrelevant"), 0)
	userID, _ := repo.FindLoginByEmailHash(ctx, hash)

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	code, err := totpCodeFor(secret)
	if err != nil {
		t.Fatalf("totpCodeFor: %v", err)
	}
	codes, err := store.Add(ctx, userID.UserID, email, hash, secret, code)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	recoveryCode := codes[0]
	deleteFn, err := store.VerifyRecoveryCode(ctx, userID.UserID, recoveryCode)
	if err != nil {
		t.Fatalf("VerifyRecoveryCode: %v", err)
	}
	if err := deleteFn(ctx); err != nil {
		t.Fatalf("deferred deletion: %v", err)
	}

	if _, err := store.VerifyRecoveryCode(ctx, userID.UserID, recoveryCode); err == nil {
		t.Fatal("expected the recovery code to be rejected after its single use")
	}
}

func TestVerifyRecoveryCode_WrongCodeRejected(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	const email = "lain@example.com"
	hash := emailHash(email)
	repo.CreateUser(ctx, "lain", "Lain", hash, []byte("irrelevant"), 0)
	userID, _ := repo.FindLoginByEmailHash(ctx, hash)

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	code, err := totpCodeFor(secret)
	if err != nil {
		t.Fatalf("totpCodeFor: %v", err)
	}
	if _, err := store.Add(ctx, userID.UserID, email, hash, secret, code); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := store.VerifyRecoveryCode(ctx, userID.UserID, "ffffffffffff"); err == nil {
		t.Fatal("expected an error for an unrecognized recovery code")
	}
}

func TestRemove_DeletesOtpButNotRecoveryCodes(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	const email = "lain@example.com"
	hash := emailHash(email)
	repo.CreateUser(ctx, "lain", "Lain", hash, []byte("irrelevant"), 0)
	userID, _ := repo.FindLoginByEmailHash(ctx, hash)

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	code, err := totpCodeFor(secret)
	if err != nil {
		t.Fatalf("totpCodeFor: %v", err)
	}
	codes, err := store.Add(ctx, userID.UserID, email, hash, secret, code)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.Remove(ctx, userID.UserID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	row, err := repo.FindLoginByEmailHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindLoginByEmailHash: %v", err)
	}
	if row.OtpEnrolled {
		t.Error("expected OtpEnrolled to be cleared after Remove")
	}

	// Recovery codes survive OTP removal — VerifyRecoveryCode still works.
	if _, err := store.VerifyRecoveryCode(ctx, userID.UserID, codes[1]); err != nil {
		t.Errorf("expected recovery codes to survive otp removal: %v", err)
	}
}
