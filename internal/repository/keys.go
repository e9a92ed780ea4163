package repository

import (
	"context"
	"time"
)

// SigningKeyRow is the persisted SigningKeyRecord of §3. Rows are never
// mutated or deleted — historical tokens must stay verifiable until their
// own expiry, long after the key stops minting new tokens.
type SigningKeyRow struct {
	KeyID     int64
	Algorithm string
	PublicKey []byte
	Signature []byte
	Issued    time.Time
	Expires   time.Time
}

// InsertSigningKey persists a freshly generated keypair's public half and
// self-signature, returning the store-generated key_id, issued, and
// expires (expires = issued + 30 days, set here so KeyRing does not need
// to trust the caller's clock for the authoritative expiry).
func (r *Repository) InsertSigningKey(ctx context.Context, algorithm string, publicKey, signature []byte) (*SigningKeyRow, error) {
	const q = `
		INSERT INTO auth.token_keys (algorithm, public_key, signature, issued, expires)
		VALUES ($1, $2, $3, now(), now() + interval '30 days')
		RETURNING key_id, issued, expires`
	row := &SigningKeyRow{Algorithm: algorithm, PublicKey: publicKey, Signature: signature}
	err := r.db.QueryRowContext(ctx, q, algorithm, publicKey, signature).Scan(&row.KeyID, &row.Issued, &row.Expires)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// FindSigningKey fetches a public key record by (algorithm, key_id).
func (r *Repository) FindSigningKey(ctx context.Context, algorithm string, keyID int64) (*SigningKeyRow, error) {
	const q = `
		SELECT key_id, algorithm, public_key, signature, issued, expires
		FROM auth.token_keys
		WHERE algorithm = $1 AND key_id = $2`
	row := &SigningKeyRow{}
	err := r.db.QueryRowContext(ctx, q, algorithm, keyID).Scan(
		&row.KeyID, &row.Algorithm, &row.PublicKey, &row.Signature, &row.Issued, &row.Expires,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}

// BotLoginRow mirrors the bot_login table. UserID is nil for bots not
// attached to a human account.
type BotLoginRow struct {
	BotID       int64
	UserID      *int64
	Password    []byte
	SecretIndex int16
	BotType     string
	CreatedBy   int64
}

// UpsertBotLogin inserts or replaces the single bot_login row a user may
// hold, mirroring authenticator.py's `ON CONFLICT (user_id) ... DO UPDATE`.
func (r *Repository) UpsertBotLogin(ctx context.Context, userID *int64, password []byte, secretIndex int16, botType string, createdBy int64) (int64, error) {
	const q = `
		INSERT INTO auth.bot_login (user_id, password, secret_index, bot_type, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) WHERE user_id IS NOT NULL
		DO UPDATE SET password = EXCLUDED.password, secret_index = EXCLUDED.secret_index
		RETURNING bot_id`
	var botID int64
	err := r.db.QueryRowContext(ctx, q, userID, password, secretIndex, botType, createdBy).Scan(&botID)
	if err != nil {
		return 0, err
	}
	return botID, nil
}

// FindBotLogin looks up a bot credential row by bot_id.
func (r *Repository) FindBotLogin(ctx context.Context, botID int64) (*BotLoginRow, error) {
	const q = `
		SELECT bot_id, user_id, password, secret_index, bot_type, created_by
		FROM auth.bot_login
		WHERE bot_id = $1`
	row := &BotLoginRow{}
	err := r.db.QueryRowContext(ctx, q, botID).Scan(
		&row.BotID, &row.UserID, &row.Password, &row.SecretIndex, &row.BotType, &row.CreatedBy,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}
