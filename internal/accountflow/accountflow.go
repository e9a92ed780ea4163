// Package accountflow implements C10 AccountFlow: email-gated account
// creation, password recovery, and OTP add/remove token flows.
package accountflow

import (
	"context"
	"fmt"
	"regexp"

	"github.com/watup-lk/identity-service/internal/authenticator"
	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/config"
	"github.com/watup-lk/identity-service/internal/mailer"
	"github.com/watup-lk/identity-service/internal/otp"
)

var handleRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{5,}$`)

const (
	keyCreateAccount = "create-account"
	keyRecoverAccount = "recover-account"
	keyOtp            = "otp"
	keyRemoveOtp       = "remove-otp"
)

// TagSeeder inserts the two system tags finalize_account creates for a
// freshly minted handle. The tag graph itself stays an external
// collaborator; this is the narrow slice AccountFlow touches directly.
type TagSeeder interface {
	SeedHandleTags(ctx context.Context, handle string) error
}

// AccountFlow ties Authenticator, Mailer, and TagSeeder together for the
// email-gated flows of §4.10.
type AccountFlow struct {
	auth   *authenticator.Authenticator
	otp    *otp.Store
	mail   mailer.Mailer
	tags   TagSeeder
	cfg    *config.Config
	linkFn func(path, token string) string
}

func New(auth *authenticator.Authenticator, otpStore *otp.Store, mail mailer.Mailer, tags TagSeeder, cfg *config.Config) *AccountFlow {
	return &AccountFlow{auth: auth, otp: otpStore, mail: mail, tags: tags, cfg: cfg, linkFn: defaultLink(cfg)}
}

func defaultLink(cfg *config.Config) func(path, token string) string {
	host := "https://fuzz.ly"
	switch cfg.Environment {
	case config.EnvLocal:
		host = "http://localhost:3000"
	case config.EnvDev:
		host = "https://dev.fuzz.ly"
	}
	return func(path, token string) string {
		return fmt.Sprintf("%s/%s?token=%s", host, path, token)
	}
}

// CreateAccount issues a 900s create-account purpose token and emails (or
// logs, in local env) a finalize link.
func (f *AccountFlow) CreateAccount(ctx context.Context, email, name string) error {
	token, err := f.auth.IssuePurposeToken(ctx, 0, keyCreateAccount, map[string]any{"name": name, "email": email})
	if err != nil {
		return err
	}
	f.mail.Send(email, "Create your account", "Finish creating your account.", &mailer.Button{
		Text: "Finish account creation", URL: f.linkFn("account/finalize", token.Token),
	})
	return nil
}

// FinalizeAccount decodes a create-account token, validates the handle,
// delegates to Authenticator.Create, and seeds the handle's two system
// tags — a feature the distilled spec dropped but the original performs.
func (f *AccountFlow) FinalizeAccount(ctx context.Context, name, handle, pw, token, ip string) (*authenticator.LoginResult, error) {
	if !handleRegex.MatchString(handle) {
		return nil, autherr.New(autherr.KindBadRequest, "invalid handle")
	}

	at, err := f.auth.Decode(ctx, token)
	if err != nil {
		return nil, err
	}
	key, _ := at.Claims["key"].(string)
	if key != keyCreateAccount {
		return nil, autherr.New(autherr.KindBadRequest, "wrong token purpose")
	}
	email, _ := at.Claims["email"].(string)

	result, err := f.auth.Create(ctx, handle, name, email, pw, ip)
	if err != nil {
		return nil, err
	}

	if f.tags != nil {
		if err := f.tags.SeedHandleTags(ctx, handle); err != nil {
			return nil, autherr.Wrap(autherr.KindInternal, "tag seeding failed", err)
		}
	}

	return result, nil
}

// ChangeHandle checks a new handle against the format account creation
// enforces. It only validates; it does not store the handle.
func (f *AccountFlow) ChangeHandle(handle string) error {
	if !handleRegex.MatchString(handle) {
		return autherr.New(autherr.KindBadRequest, "invalid handle")
	}
	return nil
}

// RecoverPassword issues a recover-account purpose token and emails it.
func (f *AccountFlow) RecoverPassword(ctx context.Context, email string) error {
	token, err := f.auth.IssuePurposeToken(ctx, 0, keyRecoverAccount, map[string]any{"email": email})
	if err != nil {
		return err
	}
	f.mail.Send(email, "Recover your account", "Reset your password.", &mailer.Button{
		Text: "Reset password", URL: f.linkFn("account/recover", token.Token),
	})
	return nil
}

// RequestRemoveOtp issues a remove-otp purpose token and emails it.
func (f *AccountFlow) RequestRemoveOtp(ctx context.Context, email string) error {
	token, err := f.auth.IssuePurposeToken(ctx, 0, keyRemoveOtp, map[string]any{"email": email})
	if err != nil {
		return err
	}
	f.mail.Send(email, "Remove two-factor authentication", "Confirm removing OTP from your account.", &mailer.Button{
		Text: "Remove OTP", URL: f.linkFn("account/remove-otp", token.Token),
	})
	return nil
}

// CreateOtp re-authenticates the user (login without OTP) and issues a
// 900s otp purpose token carrying a freshly generated TOTP secret, the
// way account.py's create_otp re-proves identity before enrollment.
func (f *AccountFlow) CreateOtp(ctx context.Context, email, pw, ip string) (string, string, error) {
	result, err := f.auth.Login(ctx, email, pw, "", ip, "")
	if err != nil {
		return "", "", err
	}

	secret, err := otp.GenerateSecret("fuzz.ly", email)
	if err != nil {
		return "", "", err
	}

	token, err := f.auth.IssuePurposeToken(ctx, result.UserID, keyOtp, map[string]any{
		"otp_secret": secret, "email": email,
	})
	if err != nil {
		return "", "", err
	}
	return token.Token, secret, nil
}

// FinalizeOtp decodes an otp purpose token and completes enrollment,
// returning the 16 plaintext recovery codes exactly once.
func (f *AccountFlow) FinalizeOtp(ctx context.Context, token, otpCode string, emailHash []byte) ([]string, error) {
	at, err := f.auth.Decode(ctx, token)
	if err != nil {
		return nil, err
	}
	if key, _ := at.Claims["key"].(string); key != keyOtp {
		return nil, autherr.New(autherr.KindBadRequest, "wrong token purpose")
	}
	email, _ := at.Claims["email"].(string)
	secret, _ := at.Claims["otp_secret"].(string)

	return f.otp.Add(ctx, at.UserID, email, emailHash, secret, otpCode)
}

// RemoveOtp deletes the OTP record of userID. A non-empty purposeToken must
// decode to a remove-otp purpose token; its email and user id are not
// compared with userID. With an empty purposeToken no check is made. No
// TOTP or recovery code is taken or verified here.
func (f *AccountFlow) RemoveOtp(ctx context.Context, userID int64, purposeToken string) error {
	if purposeToken != "" {
		at, err := f.auth.Decode(ctx, purposeToken)
		if err != nil {
			return err
		}
		if key, _ := at.Claims["key"].(string); key != keyRemoveOtp {
			return autherr.New(autherr.KindBadRequest, "wrong token purpose")
		}
	}
	return f.otp.Remove(ctx, userID)
}
