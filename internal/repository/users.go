package repository

import (
	"context"
	"database/sql"
)

// User is the minimal profile row `Authenticator.login` needs joined —
// not a full user-profile service, which stays out of scope.
type User struct {
	UserID      int64
	Handle      string
	DisplayName string
	Mod         bool
}

// UserLogin mirrors the `user_login` table of §3: email_hash is unique,
// password is the Argon2-encoded hash, secret_index names the pepper used.
type UserLogin struct {
	UserID      int64
	EmailHash   []byte
	Password    []byte
	SecretIndex int16
}

// LoginJoinRow is the joined read `Authenticator.login` performs across
// user_login, users, and otp in a single round trip.
type LoginJoinRow struct {
	UserID          int64
	PasswordHash    []byte
	SecretIndex     int16
	Handle          string
	DisplayName     string
	Mod             bool
	OtpSecretIndex  sql.NullInt16
	OtpNonce        []byte
	OtpCiphertext   []byte
	OtpEnrolled     bool
}

// CreateUser inserts a users row and its user_login row in one transaction,
// returning the generated user_id. Mirrors authenticator.py's create().
func (r *Repository) CreateUser(ctx context.Context, handle, displayName string, emailHash, password []byte, secretIndex int16) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var userID int64
	const insertUser = `
		INSERT INTO auth.users (handle, display_name, mod)
		VALUES ($1, $2, false)
		RETURNING user_id`
	if err := tx.QueryRowContext(ctx, insertUser, handle, displayName).Scan(&userID); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}

	const insertLogin = `
		INSERT INTO auth.user_login (user_id, email_hash, password, secret_index)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertLogin, userID, emailHash, password, secretIndex); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return userID, nil
}

// FindLoginByEmailHash performs the joined login read. A missing otp row
// leaves OtpEnrolled false and the Otp* fields zero.
func (r *Repository) FindLoginByEmailHash(ctx context.Context, emailHash []byte) (*LoginJoinRow, error) {
	const q = `
		SELECT ul.user_id, ul.password, ul.secret_index, u.handle, u.display_name, u.mod,
		       o.secret_index, o.nonce, o.ciphertext
		FROM auth.user_login ul
		JOIN auth.users u ON u.user_id = ul.user_id
		LEFT JOIN auth.otp o ON o.user_id = ul.user_id
		WHERE ul.email_hash = $1`

	row := &LoginJoinRow{}
	err := r.db.QueryRowContext(ctx, q, emailHash).Scan(
		&row.UserID, &row.PasswordHash, &row.SecretIndex, &row.Handle, &row.DisplayName, &row.Mod,
		&row.OtpSecretIndex, &row.OtpNonce, &row.OtpCiphertext,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	row.OtpEnrolled = row.OtpSecretIndex.Valid
	return row, nil
}

// UpdatePassword stores a new password hash and the pepper index it was made with.
func (r *Repository) UpdatePassword(ctx context.Context, userID int64, password []byte, secretIndex int16) error {
	const q = `UPDATE auth.user_login SET password = $2, secret_index = $3 WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, q, userID, password, secretIndex)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// EmailHashExists confirms an (email_hash, user_id) pair — used by OTP
// enrollment to verify the row before writing envelope-encrypted secrets.
func (r *Repository) EmailHashExists(ctx context.Context, userID int64, emailHash []byte) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM auth.user_login WHERE user_id = $1 AND email_hash = $2)`
	err := r.db.QueryRowContext(ctx, q, userID, emailHash).Scan(&exists)
	return exists, err
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
