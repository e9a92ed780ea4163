// Package authenticator implements C7 Authenticator: login, account
// creation, password change, and bot-credential orchestration over
// KeyRing, TokenCodec, TokenRegistry, PasswordHasher, and OtpStore.
package authenticator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/otp"
	"github.com/watup-lk/identity-service/internal/password"
	"github.com/watup-lk/identity-service/internal/repository"
	"github.com/watup-lk/identity-service/internal/secretstore"
	"github.com/watup-lk/identity-service/internal/tokencodec"
)

var emailRegex = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)

const (
	minPasswordLength = 10
	purposeTokenTTL   = 900 * time.Second

	BotTypeInternal = "internal"
	BotTypeBot      = "bot"
)

// defaultAdminDomains mirrors authenticator.py's hardcoded admin-grant
// email domains.
var defaultAdminDomains = []string{"kheina.com", "fuzz.ly"}

type repo interface {
	CreateUser(ctx context.Context, handle, displayName string, emailHash, password []byte, secretIndex int16) (int64, error)
	FindLoginByEmailHash(ctx context.Context, emailHash []byte) (*repository.LoginJoinRow, error)
	UpdatePassword(ctx context.Context, userID int64, password []byte, secretIndex int16) error
	UpsertBotLogin(ctx context.Context, userID *int64, password []byte, secretIndex int16, botType string, createdBy int64) (int64, error)
	FindBotLogin(ctx context.Context, botID int64) (*repository.BotLoginRow, error)
}

type codec interface {
	Issue(ctx context.Context, userID int64, claims map[string]any, ttl *time.Duration) (*tokencodec.IssuedToken, error)
	Decode(ctx context.Context, token string) (*tokencodec.AuthToken, error)
}

// Authenticator orchestrates C2-C6 to implement login, creation, password
// change, and bot-credential flows.
type Authenticator struct {
	repo         repo
	codec        codec
	hasher       *password.Hasher
	otp          *otp.Store
	secrets      *secretstore.SecretStore
	adminDomains []string
}

func New(repo repo, codec codec, hasher *password.Hasher, otpStore *otp.Store, secrets *secretstore.SecretStore) *Authenticator {
	return &Authenticator{repo: repo, codec: codec, hasher: hasher, otp: otpStore, secrets: secrets, adminDomains: defaultAdminDomains}
}

// HashEmail computes SHA3-512(email || secrets[0]) — always index 0, since
// the email-hash lookup requires determinism.
func (a *Authenticator) HashEmail(email string) []byte {
	h := sha3.New512()
	h.Write([]byte(email))
	h.Write(a.secrets.Get(0))
	return h.Sum(nil)
}

func validateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return autherr.New(autherr.KindBadRequest, "malformed email address")
	}
	return nil
}

// LoginResult is the outcome of a successful Login/BotLogin/create call.
type LoginResult struct {
	UserID int64
	Handle string
	Token  *tokencodec.IssuedToken
}

// Login implements §4.6's Login state machine.
func (a *Authenticator) Login(ctx context.Context, email, pw, otpCode, ip, fp string) (*LoginResult, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(pw) < minPasswordLength {
		return nil, autherr.New(autherr.KindBadRequest, "password too short")
	}

	emailHash := a.HashEmail(email)
	row, err := a.repo.FindLoginByEmailHash(ctx, emailHash)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, autherr.FailedLogin()
		}
		return nil, autherr.Wrap(autherr.KindInternal, "login lookup failed", err)
	}

	var deferredDelete otp.DeferredDeletion
	if row.OtpEnrolled {
		switch {
		case otpCode == "":
			return nil, autherr.New(autherr.KindUnprocessableEntity, "missing otp key")
		case len(otpCode) != 6:
			del, err := a.otp.VerifyRecoveryCode(ctx, row.UserID, otpCode)
			if err != nil {
				return nil, err
			}
			deferredDelete = del
		default:
			otpRow := &repository.OtpRow{
				UserID:      row.UserID,
				SecretIndex: row.OtpSecretIndex.Int16,
				Nonce:       row.OtpNonce,
				Ciphertext:  row.OtpCiphertext,
			}
			secret, err := a.otp.Decrypt(email, otpRow)
			if err != nil {
				return nil, autherr.FailedLogin()
			}
			if !otp.ValidateCode(otpCode, secret) {
				return nil, autherr.FailedLogin()
			}
		}
	}

	ok, needsRehash, err := a.hasher.Verify(pw, string(row.PasswordHash), int(row.SecretIndex))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "password verify failed", err)
	}
	if !ok {
		return nil, autherr.FailedLogin()
	}
	if needsRehash {
		if encoded, idx, err := a.hasher.Rehash(pw); err == nil {
			_ = a.repo.UpdatePassword(ctx, row.UserID, []byte(encoded), int16(idx))
		}
	}

	scope := ScopeUser
	domain := emailDomain(email)
	switch {
	case contains(a.adminDomains, domain):
		scope = ScopeAdmin
	case row.Mod:
		scope = ScopeMod
	}

	if deferredDelete != nil {
		if err := deferredDelete(ctx); err != nil {
			return nil, autherr.Wrap(autherr.KindInternal, "recovery code cleanup failed", err)
		}
	}

	claims := map[string]any{
		"scope": ScopeNames(scope),
		"ip":    ip,
		"fp":    fp,
		"email": email,
	}
	token, err := a.codec.Issue(ctx, row.UserID, claims, nil)
	if err != nil {
		return nil, err
	}

	return &LoginResult{UserID: row.UserID, Handle: row.Handle, Token: token}, nil
}

// Create inserts a new user + user_login row and issues its first token.
func (a *Authenticator) Create(ctx context.Context, handle, displayName, email, pw, ip string) (*LoginResult, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(pw) < minPasswordLength {
		return nil, autherr.New(autherr.KindBadRequest, "password too short")
	}

	encoded, secretIndex, err := a.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	userID, err := a.repo.CreateUser(ctx, handle, displayName, a.HashEmail(email), []byte(encoded), int16(secretIndex))
	if err != nil {
		if err == repository.ErrConflict {
			return nil, autherr.New(autherr.KindConflict, "handle or email already in use")
		}
		return nil, autherr.Wrap(autherr.KindInternal, "account creation failed", err)
	}

	claims := map[string]any{"scope": ScopeNames(ScopeUser), "ip": ip, "email": email}
	token, err := a.codec.Issue(ctx, userID, claims, nil)
	if err != nil {
		return nil, err
	}

	return &LoginResult{UserID: userID, Handle: handle, Token: token}, nil
}

// ChangePassword verifies the current password then stores a fresh hash.
func (a *Authenticator) ChangePassword(ctx context.Context, email, oldPw, newPw string) error {
	if len(newPw) < minPasswordLength {
		return autherr.New(autherr.KindBadRequest, "password too short")
	}

	row, err := a.repo.FindLoginByEmailHash(ctx, a.HashEmail(email))
	if err != nil {
		if err == repository.ErrNotFound {
			return autherr.FailedLogin()
		}
		return autherr.Wrap(autherr.KindInternal, "password change lookup failed", err)
	}

	ok, _, err := a.hasher.Verify(oldPw, string(row.PasswordHash), int(row.SecretIndex))
	if err != nil {
		return autherr.Wrap(autherr.KindInternal, "password verify failed", err)
	}
	if !ok {
		return autherr.FailedLogin()
	}

	encoded, secretIndex, err := a.hasher.Hash(newPw)
	if err != nil {
		return err
	}
	return a.repo.UpdatePassword(ctx, row.UserID, []byte(encoded), int16(secretIndex))
}

// CreateBot generates a fresh 64-byte bot password, upserts the bot_login
// row, and returns a *BotCredential holding the plaintext password. Framing
// the credential as a JSON envelope is done by the HTTP handler, not here.
func (a *Authenticator) CreateBot(ctx context.Context, userID *int64, botType string, createdBy int64) (*BotCredential, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "bot password generation failed", err)
	}
	password := hex.EncodeToString(raw)

	encoded, secretIndex, err := a.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	botID, err := a.repo.UpsertBotLogin(ctx, userID, []byte(encoded), int16(secretIndex), botType, createdBy)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "bot credential creation failed", err)
	}

	return &BotCredential{BotID: botID, UserID: userID, Password: password}, nil
}

// BotLogin verifies a bot credential and issues a token scoped to
// internal or bot depending on the credential's bot_type.
func (a *Authenticator) BotLogin(ctx context.Context, botID int64, userID *int64, pw string) (*LoginResult, error) {
	row, err := a.repo.FindBotLogin(ctx, botID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, autherr.FailedLogin()
		}
		return nil, autherr.Wrap(autherr.KindInternal, "bot login lookup failed", err)
	}
	if (row.UserID == nil) != (userID == nil) || (row.UserID != nil && userID != nil && *row.UserID != *userID) {
		return nil, autherr.FailedLogin()
	}

	ok, needsRehash, err := a.hasher.Verify(pw, string(row.Password), int(row.SecretIndex))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "bot password verify failed", err)
	}
	if !ok {
		return nil, autherr.FailedLogin()
	}
	if needsRehash {
		if encoded, idx, err := a.hasher.Rehash(pw); err == nil {
			_, _ = a.repo.UpsertBotLogin(ctx, row.UserID, []byte(encoded), int16(idx), row.BotType, row.CreatedBy)
		}
	}

	scope := ScopeBot
	if row.BotType == BotTypeInternal {
		scope = ScopeInternal
	}
	idForToken := int64(0)
	if row.UserID != nil {
		idForToken = *row.UserID
	}
	token, err := a.codec.Issue(ctx, idForToken, map[string]any{"scope": ScopeNames(scope)}, nil)
	if err != nil {
		return nil, err
	}
	return &LoginResult{UserID: idForToken, Token: token}, nil
}

// IssuePurposeToken mints a short-TTL token carrying a `key` discriminator
// for the one-shot AccountFlow flows (create-account, recover-account,
// otp, remove-otp).
func (a *Authenticator) IssuePurposeToken(ctx context.Context, userID int64, key string, extra map[string]any) (*tokencodec.IssuedToken, error) {
	claims := map[string]any{"key": key}
	for k, v := range extra {
		claims[k] = v
	}
	ttl := purposeTokenTTL
	return a.codec.Issue(ctx, userID, claims, &ttl)
}

// Decode exposes the underlying codec's decode for AccountFlow's purpose
// token consumption.
func (a *Authenticator) Decode(ctx context.Context, token string) (*tokencodec.AuthToken, error) {
	return a.codec.Decode(ctx, token)
}

// BotCredential is the plaintext-password response handed back exactly
// once from CreateBot.
type BotCredential struct {
	BotID    int64
	UserID   *int64
	Password string
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
