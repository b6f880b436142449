package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/pkg/cryptox"
)

// sessionsRepo persists the storefront session as a sealed blob. Tokens
// never hit the disk in plaintext; the row also carries the expiry so
// housekeeping or debugging can see validity without unsealing.
type sessionsRepo struct {
	q querier
}

func (r *sessionsRepo) GetSession(ctx context.Context, account string) (domain.Session, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT blob FROM sessions WHERE account = ?`, account)

	var sealed []byte
	if err := row.Scan(&sealed); err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	plaintext, err := cryptox.Open(sealed)
	if err != nil {
		return domain.Session{}, fmt.Errorf("unseal session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *sessionsRepo) PutSession(ctx context.Context, account string, s domain.Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	sealed, err := cryptox.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}

	// Upsert so a new login atomically replaces the prior session.
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sessions (account, blob, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			blob = excluded.blob,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		account, sealed, s.ExpiresAt.UTC(), time.Now().UTC())
	return err
}

func (r *sessionsRepo) DeleteSession(ctx context.Context, account string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM sessions WHERE account = ?`, account)
	return err
}
