package repository

import "context"

// OtpRow mirrors the OtpRecord entity: ciphertext is AES-256-GCM of the
// TOTP secret, key derived from email || secrets[secret_index].
type OtpRow struct {
	UserID      int64
	SecretIndex int16
	Nonce       []byte
	Ciphertext  []byte
}

// OtpRecoveryRow mirrors one OtpRecoveryCode row. KeyID (0-15) is the low
// nibble of the plaintext code's first byte, composite-keyed with UserID.
type OtpRecoveryRow struct {
	UserID      int64
	KeyID       int16
	SecretIndex int16
	RecoveryKey []byte
}

// InsertOtpEnrollment writes the OtpRecord and its 16 recovery codes in a
// single transaction, matching add_otp()'s atomicity requirement.
func (r *Repository) InsertOtpEnrollment(ctx context.Context, otp OtpRow, codes []OtpRecoveryRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertOtp = `
		INSERT INTO auth.otp (user_id, secret_index, nonce, ciphertext)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertOtp, otp.UserID, otp.SecretIndex, otp.Nonce, otp.Ciphertext); err != nil {
		return err
	}

	const insertCode = `
		INSERT INTO auth.otp_recovery (user_id, key_id, secret_index, recovery_key)
		VALUES ($1, $2, $3, $4)`
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, insertCode, c.UserID, c.KeyID, c.SecretIndex, c.RecoveryKey); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FindRecoveryCode looks up the (user_id, key_id) recovery row.
func (r *Repository) FindRecoveryCode(ctx context.Context, userID int64, keyID int16) (*OtpRecoveryRow, error) {
	const q = `
		SELECT user_id, key_id, secret_index, recovery_key
		FROM auth.otp_recovery
		WHERE user_id = $1 AND key_id = $2`
	row := &OtpRecoveryRow{}
	err := r.db.QueryRowContext(ctx, q, userID, keyID).Scan(&row.UserID, &row.KeyID, &row.SecretIndex, &row.RecoveryKey)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}

// DeleteRecoveryCode removes a single-use recovery code after consumption.
func (r *Repository) DeleteRecoveryCode(ctx context.Context, userID int64, keyID int16) error {
	const q = `DELETE FROM auth.otp_recovery WHERE user_id = $1 AND key_id = $2`
	_, err := r.db.ExecContext(ctx, q, userID, keyID)
	return err
}

// DeleteOtp removes the OTP record (not its recovery codes, used or
// unused) — matches remove_otp()'s stated scope.
func (r *Repository) DeleteOtp(ctx context.Context, userID int64) error {
	const q = `DELETE FROM auth.otp WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, q, userID)
	return err
}
