package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/faithly/walletd/internal/pagination"
)

// Postgres error codes
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// PostgresStore implements Store with PostgreSQL. The append and the
// wallets cache-column update happen in one SERIALIZABLE transaction,
// and CHECK constraints stop overdrafts at the database even if the
// engine's in-process check is bypassed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateWallet(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT balance_wc FROM wallets WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	return balance, err
}

func (p *PostgresStore) EscrowBalance(ctx context.Context, userID string) (int64, error) {
	var escrow int64
	err := p.db.QueryRowContext(ctx, `
		SELECT escrow_balance_wc FROM wallets WHERE user_id = $1
	`, userID).Scan(&escrow)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	return escrow, err
}

// Append inserts the log entry and moves the cache columns atomically.
// For escrow types the escrow column moves opposite to the balance:
// escrow_lock subtracts from balance and adds to escrow, escrow_release
// the reverse.
func (p *PostgresStore) Append(ctx context.Context, txn *Transaction) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var escrowDelta int64
	if txn.Type.Escrow() {
		escrowDelta = -txn.Amount
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance_wc        = balance_wc + $2,
			escrow_balance_wc = escrow_balance_wc + $3,
			updated_at        = NOW()
		WHERE user_id = $1
	`, txn.UserID, txn.Amount, escrowDelta)
	if err != nil {
		return mapPQError(err, "failed to update wallet balance")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrWalletNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO coin_transactions
			(id, user_id, type, amount_wc, balance_after_wc, description,
			 related_entity_type, related_entity_id, payment_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`, txn.ID, txn.UserID, string(txn.Type), txn.Amount, txn.BalanceAfter,
		txn.Description, txn.RelatedEntityType, txn.RelatedEntityID,
		txn.PaymentReference, txn.CreatedAt)
	if err != nil {
		return mapPQError(err, "failed to record transaction")
	}

	return tx.Commit()
}

func (p *PostgresStore) FindByPaymentReference(ctx context.Context, ref string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount_wc, balance_after_wc, description,
		       related_entity_type, related_entity_id, payment_reference, created_at
		FROM coin_transactions
		WHERE payment_reference = $1
	`, ref)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return txn, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Transaction, error) {
	query := `
		SELECT id, user_id, type, amount_wc, balance_after_wc, description,
		       related_entity_type, related_entity_id, payment_reference, created_at
		FROM coin_transactions
		WHERE user_id = $1`
	args := []interface{}{userID}

	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (p *PostgresStore) SumAmounts(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_wc), 0) FROM coin_transactions WHERE user_id = $1
	`, userID).Scan(&sum)
	return sum, err
}

func (p *PostgresStore) SumEscrow(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(-SUM(amount_wc), 0)
		FROM coin_transactions
		WHERE user_id = $1 AND type IN ('escrow_lock', 'escrow_release')
	`, userID).Scan(&sum)
	return sum, err
}

func (p *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id FROM wallets ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	txn := &Transaction{}
	var typ string
	var description, relType, relID, ref sql.NullString
	if err := row.Scan(&txn.ID, &txn.UserID, &typ, &txn.Amount, &txn.BalanceAfter,
		&description, &relType, &relID, &ref, &txn.CreatedAt); err != nil {
		return nil, err
	}
	txn.Type = Type(typ)
	txn.Description = description.String
	txn.RelatedEntityType = relType.String
	txn.RelatedEntityID = relID.String
	txn.PaymentReference = ref.String
	return txn, nil
}

// mapPQError converts constraint violations to the package's sentinel
// errors. The partial unique index on payment_reference is the final
// arbiter of idempotency; the CHECK constraints are the overdraft
// backstop.
func mapPQError(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateReference
		case pgCheckViolation:
			return ErrInsufficientFunds
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
