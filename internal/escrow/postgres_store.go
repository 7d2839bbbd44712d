package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists escrow records in the escrow_locks table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AddLock(ctx context.Context, bookingID, userID string, amount int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_locks (booking_id, user_id, locked_wc, released_wc, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		ON CONFLICT (booking_id) DO UPDATE
		SET locked_wc = escrow_locks.locked_wc + EXCLUDED.locked_wc,
		    updated_at = NOW()`,
		bookingID, userID, amount,
	)
	if err != nil {
		return fmt.Errorf("insert escrow lock: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddRelease(ctx context.Context, bookingID string, amount int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escrow_locks
		SET released_wc = released_wc + $2, updated_at = NOW()
		WHERE booking_id = $1`,
		bookingID, amount,
	)
	if err != nil {
		return fmt.Errorf("update escrow release: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update escrow release: %w", err)
	}
	if rows == 0 {
		return ErrLockNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, bookingID string) (*Lock, error) {
	var l Lock
	err := s.db.QueryRowContext(ctx, `
		SELECT booking_id, user_id, locked_wc, released_wc, created_at, updated_at
		FROM escrow_locks
		WHERE booking_id = $1`,
		bookingID,
	).Scan(&l.BookingID, &l.UserID, &l.LockedWC, &l.ReleasedWC, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select escrow lock: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Lock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT booking_id, user_id, locked_wc, released_wc, created_at, updated_at
		FROM escrow_locks
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list escrow locks: %w", err)
	}
	defer rows.Close()

	var out []*Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.BookingID, &l.UserID, &l.LockedWC, &l.ReleasedWC, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan escrow lock: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
