package wallet

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore reads and writes the policy columns of the wallets
// table. The row itself is created by the ledger store with the column
// defaults, so EnsureConfig only has to upsert.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed config store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) EnsureConfig(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (p *PostgresStore) GetConfig(ctx context.Context, userID string) (*AutoTopupConfig, error) {
	cfg := &AutoTopupConfig{UserID: userID}
	err := p.db.QueryRowContext(ctx, `
		SELECT auto_topup_enabled, auto_topup_threshold_wc, auto_topup_amount_wc, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&cfg.Enabled, &cfg.ThresholdWC, &cfg.AmountWC, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *PostgresStore) UpdateConfig(ctx context.Context, cfg *AutoTopupConfig) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			auto_topup_enabled      = $2,
			auto_topup_threshold_wc = $3,
			auto_topup_amount_wc    = $4,
			updated_at              = NOW()
		WHERE user_id = $1
	`, cfg.UserID, cfg.Enabled, cfg.ThresholdWC, cfg.AmountWC)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConfigNotFound
	}
	return nil
}
