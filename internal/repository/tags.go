package repository

import "context"

// SeedHandleTags inserts the two system tags finalize_account creates for
// a new account's handle: one for works the account authored, one for
// works depicting the account. The tag graph itself (edges, aliasing,
// post association) lives in a separate service and is out of scope here
// — this is the single row-per-tag write the auth subsystem owns.
func (r *Repository) SeedHandleTags(ctx context.Context, handle string) error {
	const q = `INSERT INTO tags.tags (tag, owner) VALUES ($1, true), ($2, true) ON CONFLICT (tag) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q, handle+"_(artist)", handle+"_(subject)")
	return err
}
