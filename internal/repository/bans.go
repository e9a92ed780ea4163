package repository

import "context"

// BanRow mirrors the Ban entity without its completed time. The queries
// below return only bans whose completed time is after the database's now().
type BanRow struct {
	BanID     int64
	BanType   string
	UserID    int64
	Reason    string
}

// ActiveUserBan returns the active (completed > now) ban for a user_id, if
// any. ErrNotFound means no active ban.
func (r *Repository) ActiveUserBan(ctx context.Context, userID int64) (*BanRow, error) {
	const q = `
		SELECT ban_id, ban_type, user_id, reason
		FROM auth.bans
		WHERE user_id = $1 AND completed > now()
		ORDER BY created DESC
		LIMIT 1`
	row := &BanRow{}
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&row.BanID, &row.BanType, &row.UserID, &row.Reason)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}

// FindIPBan looks up an IP ban by its salted SHA-1 hash, never by
// plaintext IP.
func (r *Repository) FindIPBan(ctx context.Context, ipHash []byte) (*BanRow, error) {
	const q = `
		SELECT b.ban_id, b.ban_type, b.user_id, b.reason
		FROM auth.ip_bans ib
		JOIN auth.bans b ON b.ban_id = ib.ban_id
		WHERE ib.ip_hash = $1 AND b.completed > now()`
	row := &BanRow{}
	err := r.db.QueryRowContext(ctx, q, ipHash).Scan(&row.BanID, &row.BanType, &row.UserID, &row.Reason)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}

// RecordIPBan inserts the ip_hash -> ban_id mapping the first time a
// banned IP is observed, so subsequent lookups hit FindIPBan directly.
func (r *Repository) RecordIPBan(ctx context.Context, ipHash []byte, banID int64) error {
	const q = `
		INSERT INTO auth.ip_bans (ip_hash, ban_id)
		VALUES ($1, $2)
		ON CONFLICT (ip_hash) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q, ipHash, banID)
	return err
}
