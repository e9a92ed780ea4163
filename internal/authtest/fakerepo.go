// Package authtest holds an in-memory stand-in for *repository.Repository
// shared by the auth subsystem's package tests, so authenticator_test.go,
// otp_test.go, accountflow_test.go, and handlers/auth_test.go don't each
// reinvent the same fixture. It satisfies every narrow repo interface the
// domain packages declare (keyring.store, otp.repo, authenticator.repo,
// banregistry.repo) by structural typing alone.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/watup-lk/identity-service/internal/repository"
)

type FakeRepo struct {
	mu sync.Mutex

	nextUserID int64
	nextKeyID  int64
	nextBotID  int64

	byEmailHash map[string]int64
	users       map[int64]*repository.LoginJoinRow

	signingKeys map[int64]*repository.SigningKeyRow

	botLogins map[int64]*repository.BotLoginRow
	botByUser map[int64]int64

	otpRows       map[int64]repository.OtpRow
	recoveryCodes map[int64]map[int16]repository.OtpRecoveryRow

	userBans map[int64]*repository.BanRow
	ipBans   map[string]*repository.BanRow
}

func New() *FakeRepo {
	return &FakeRepo{
		byEmailHash:   make(map[string]int64),
		users:         make(map[int64]*repository.LoginJoinRow),
		signingKeys:   make(map[int64]*repository.SigningKeyRow),
		botLogins:     make(map[int64]*repository.BotLoginRow),
		botByUser:     make(map[int64]int64),
		otpRows:       make(map[int64]repository.OtpRow),
		recoveryCodes: make(map[int64]map[int16]repository.OtpRecoveryRow),
		userBans:      make(map[int64]*repository.BanRow),
		ipBans:        make(map[string]*repository.BanRow),
	}
}

// --- users.go surface ---

func (f *FakeRepo) CreateUser(_ context.Context, handle, displayName string, emailHash, password []byte, secretIndex int16) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byEmailHash[string(emailHash)]; exists {
		return 0, repository.ErrConflict
	}
	f.nextUserID++
	id := f.nextUserID
	f.byEmailHash[string(emailHash)] = id
	f.users[id] = &repository.LoginJoinRow{
		UserID:       id,
		PasswordHash: password,
		SecretIndex:  secretIndex,
		Handle:       handle,
		DisplayName:  displayName,
	}
	return id, nil
}

func (f *FakeRepo) FindLoginByEmailHash(_ context.Context, emailHash []byte) (*repository.LoginJoinRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byEmailHash[string(emailHash)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	row := *f.users[id]
	if otp, ok := f.otpRows[id]; ok {
		row.OtpSecretIndex.Int16 = otp.SecretIndex
		row.OtpSecretIndex.Valid = true
		row.OtpNonce = otp.Nonce
		row.OtpCiphertext = otp.Ciphertext
		row.OtpEnrolled = true
	}
	return &row, nil
}

func (f *FakeRepo) UpdatePassword(_ context.Context, userID int64, password []byte, secretIndex int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = password
	u.SecretIndex = secretIndex
	return nil
}

func (f *FakeRepo) EmailHashExists(_ context.Context, userID int64, emailHash []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byEmailHash[string(emailHash)]
	return ok && id == userID, nil
}

// --- keys.go surface ---

func (f *FakeRepo) InsertSigningKey(_ context.Context, algorithm string, publicKey, signature []byte) (*repository.SigningKeyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextKeyID++
	now := time.Now()
	row := &repository.SigningKeyRow{
		KeyID:     f.nextKeyID,
		Algorithm: algorithm,
		PublicKey: publicKey,
		Signature: signature,
		Issued:    now,
		Expires:   now.Add(30 * 24 * time.Hour),
	}
	f.signingKeys[row.KeyID] = row
	return row, nil
}

func (f *FakeRepo) FindSigningKey(_ context.Context, algorithm string, keyID int64) (*repository.SigningKeyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.signingKeys[keyID]
	if !ok || row.Algorithm != algorithm {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (f *FakeRepo) UpsertBotLogin(_ context.Context, userID *int64, password []byte, secretIndex int16, botType string, createdBy int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if userID != nil {
		if existing, ok := f.botByUser[*userID]; ok {
			row := f.botLogins[existing]
			row.Password = password
			row.SecretIndex = secretIndex
			return existing, nil
		}
	}
	f.nextBotID++
	id := f.nextBotID
	row := &repository.BotLoginRow{BotID: id, UserID: userID, Password: password, SecretIndex: secretIndex, BotType: botType, CreatedBy: createdBy}
	f.botLogins[id] = row
	if userID != nil {
		f.botByUser[*userID] = id
	}
	return id, nil
}

func (f *FakeRepo) FindBotLogin(_ context.Context, botID int64) (*repository.BotLoginRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.botLogins[botID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

// --- otp.go surface ---

func (f *FakeRepo) InsertOtpEnrollment(_ context.Context, otp repository.OtpRow, codes []repository.OtpRecoveryRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.otpRows[otp.UserID] = otp
	m := make(map[int16]repository.OtpRecoveryRow, len(codes))
	for _, c := range codes {
		m[c.KeyID] = c
	}
	f.recoveryCodes[otp.UserID] = m
	return nil
}

func (f *FakeRepo) FindRecoveryCode(_ context.Context, userID int64, keyID int16) (*repository.OtpRecoveryRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.recoveryCodes[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c, ok := m[keyID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *FakeRepo) DeleteRecoveryCode(_ context.Context, userID int64, keyID int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.recoveryCodes[userID]; ok {
		delete(m, keyID)
	}
	return nil
}

func (f *FakeRepo) DeleteOtp(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.otpRows, userID)
	return nil
}

// --- bans.go surface ---

func (f *FakeRepo) ActiveUserBan(_ context.Context, userID int64) (*repository.BanRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.userBans[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (f *FakeRepo) FindIPBan(_ context.Context, ipHash []byte) (*repository.BanRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.ipBans[string(ipHash)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (f *FakeRepo) RecordIPBan(_ context.Context, ipHash []byte, banID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ipBans[string(ipHash)] = &repository.BanRow{BanID: banID, BanType: "ip"}
	return nil
}

// --- tags.go surface (accountflow.TagSeeder) ---

func (f *FakeRepo) SeedHandleTags(_ context.Context, _ string) error {
	return nil
}

// --- test setup helpers, not part of any production interface ---

// BanUser marks userID as actively banned with the given ban type.
func (f *FakeRepo) BanUser(userID int64, banType, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userBans[userID] = &repository.BanRow{BanID: userID, BanType: banType, UserID: userID, Reason: reason}
}

// BanIP marks ipHash as actively banned.
func (f *FakeRepo) BanIP(ipHash []byte, banType, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ipBans[string(ipHash)] = &repository.BanRow{BanID: 1, BanType: banType, Reason: reason}
}
