package sqlite

import (
	"context"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
)

type ledgerRepo struct {
	q querier
}

func (r *ledgerRepo) AddEntry(ctx context.Context, account string, e domain.LedgerEntry) error {
	// ON CONFLICT DO NOTHING keeps the ledger append-only and idempotent:
	// re-recording a claimed id never fails and never rewrites history.
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO claimed_items (account, item_id, title, claimed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, item_id) DO NOTHING`,
		account, e.ItemID, e.Title, e.ClaimedAt.UTC())
	return err
}

func (r *ledgerRepo) HasEntry(ctx context.Context, account, itemID string) (bool, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM claimed_items WHERE account = ? AND item_id = ?`,
		account, itemID)

	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ledgerRepo) ListEntries(ctx context.Context, account string) ([]domain.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT item_id, title, claimed_at
		FROM claimed_items
		WHERE account = ?
		ORDER BY claimed_at ASC, item_id ASC`,
		account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ItemID, &e.Title, &e.ClaimedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ledgerRepo) CountEntries(ctx context.Context, account string) (int, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM claimed_items WHERE account = ?`, account)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
