// Package ledger tracks user coin balances on the platform.
//
// The coin_transactions log is append-only and is the source of truth:
// a user's balance is the sum of signed amounts over their entries. The
// wallets table carries cached balance columns maintained in the same
// database transaction as each append; reconciliation verifies them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithly/walletd/internal/idgen"
	"github.com/faithly/walletd/internal/metrics"
	"github.com/faithly/walletd/internal/pagination"
	"github.com/faithly/walletd/internal/syncutil"
	"github.com/faithly/walletd/internal/traces"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrDuplicateReference = errors.New("payment reference already processed")
)

// Type classifies a ledger transaction.
type Type string

const (
	TypeCredit        Type = "credit"
	TypeDebit         Type = "debit"
	TypeEscrowLock    Type = "escrow_lock"
	TypeEscrowRelease Type = "escrow_release"
)

// Sign returns +1 for types that add to the balance and -1 for types
// that subtract from it.
func (t Type) Sign() int64 {
	switch t {
	case TypeCredit, TypeEscrowRelease:
		return 1
	case TypeDebit, TypeEscrowLock:
		return -1
	default:
		return 0
	}
}

// Escrow reports whether the type also moves the escrow sub-balance.
func (t Type) Escrow() bool {
	return t == TypeEscrowLock || t == TypeEscrowRelease
}

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	return t.Sign() != 0
}

// Transaction is one immutable entry in the coin log. Amount carries the
// sign (credits positive, debits negative); BalanceAfter is the cached
// balance at append time.
type Transaction struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Type              Type      `json:"type"`
	Amount            int64     `json:"amount_wc"`
	BalanceAfter      int64     `json:"balance_after_wc"`
	Description       string    `json:"description,omitempty"`
	RelatedEntityType string    `json:"related_entity_type,omitempty"`
	RelatedEntityID   string    `json:"related_entity_id,omitempty"`
	PaymentReference  string    `json:"payment_reference,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ApplyRequest describes one balance change. Amount is always positive;
// the engine derives the sign from Type.
type ApplyRequest struct {
	UserID            string
	Type              Type
	Amount            int64
	Description       string
	RelatedEntityType string
	RelatedEntityID   string
	PaymentReference  string
}

// Store persists the transaction log and the cached wallet balances.
// Append must be atomic: the entry and the cache columns change together
// or not at all.
type Store interface {
	CreateWallet(ctx context.Context, userID string) error
	Balance(ctx context.Context, userID string) (int64, error)
	EscrowBalance(ctx context.Context, userID string) (int64, error)
	Append(ctx context.Context, txn *Transaction) error
	FindByPaymentReference(ctx context.Context, ref string) (*Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Transaction, error)
	SumAmounts(ctx context.Context, userID string) (int64, error)
	SumEscrow(ctx context.Context, userID string) (int64, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Hook observes successfully applied transactions. Hooks run after
// commit and can never fail or delay the ledger operation.
type Hook func(ctx context.Context, txn *Transaction)

// Engine serializes balance changes per user and enforces the
// non-negative balance invariant before anything is written.
type Engine struct {
	store   Store
	locks   *syncutil.ContextShardedMutex
	logger  *slog.Logger
	timeout time.Duration
	hooks   []Hook
}

// New creates a ledger engine. storeTimeout bounds each store call; zero
// means no bound.
func New(store Store, logger *slog.Logger, storeTimeout time.Duration) *Engine {
	return &Engine{
		store:   store,
		locks:   syncutil.NewContextShardedMutex(),
		logger:  logger,
		timeout: storeTimeout,
	}
}

// AddHook registers a post-commit observer. Not safe to call after the
// engine is serving traffic.
func (e *Engine) AddHook(h Hook) {
	e.hooks = append(e.hooks, h)
}

// Store exposes the underlying store for reconciliation.
func (e *Engine) Store() Store {
	return e.store
}

// Apply validates and applies one balance change. It returns the
// appended transaction. All changes for a user are linearized: Apply
// holds the user's shard lock across the read-check-append sequence.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*Transaction, error) {
	if req.UserID == "" {
		return nil, ErrWalletNotFound
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}

	ctx, span := traces.StartSpan(ctx, "ledger.apply",
		traces.UserID(req.UserID),
		traces.TxnType(string(req.Type)),
		traces.Amount(req.Amount),
	)
	defer span.End()

	unlock, err := e.locks.LockContext(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	balance, err := e.balance(ctx, req.UserID)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(string(req.Type), "error").Inc()
		return nil, err
	}

	signed := req.Type.Sign() * req.Amount
	if balance+signed < 0 {
		metrics.TransactionsTotal.WithLabelValues(string(req.Type), "rejected").Inc()
		return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, balance, req.Amount)
	}

	txn := &Transaction{
		ID:                idgen.WithPrefix("txn_"),
		UserID:            req.UserID,
		Type:              req.Type,
		Amount:            signed,
		BalanceAfter:      balance + signed,
		Description:       req.Description,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		PaymentReference:  req.PaymentReference,
		CreatedAt:         time.Now().UTC(),
	}

	if err := e.append(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			metrics.TransactionsTotal.WithLabelValues(string(req.Type), "duplicate").Inc()
		} else {
			metrics.TransactionsTotal.WithLabelValues(string(req.Type), "error").Inc()
		}
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(req.Type), "applied").Inc()
	metrics.TransactionAmount.WithLabelValues(string(req.Type)).Observe(float64(req.Amount))

	e.logger.Info("transaction applied",
		"txn_id", txn.ID,
		"user_id", txn.UserID,
		"type", txn.Type,
		"amount_wc", txn.Amount,
		"balance_after_wc", txn.BalanceAfter,
	)

	e.runHooks(txn)

	return txn, nil
}

// CreateWallet makes a wallet row for the user. Creating an existing
// wallet is a no-op.
func (e *Engine) CreateWallet(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrWalletNotFound
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.store.CreateWallet(ctx, userID); err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

// Balance returns the user's current balance.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	return e.balance(ctx, userID)
}

// EscrowBalance returns the user's currently escrowed amount.
func (e *Engine) EscrowBalance(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	bal, err := e.store.EscrowBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("read escrow balance: %w", err)
	}
	return bal, nil
}

// History returns the user's transactions, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Transaction, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	txns, err := e.store.ListByUser(ctx, userID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// FindByPaymentReference looks up the transaction recorded for an
// external payment, or nil when none exists.
func (e *Engine) FindByPaymentReference(ctx context.Context, ref string) (*Transaction, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.store.FindByPaymentReference(ctx, ref)
}

func (e *Engine) balance(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	bal, err := e.store.Balance(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

func (e *Engine) append(ctx context.Context, txn *Transaction) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.store.Append(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateReference) || errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrWalletNotFound) {
			return err
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

// runHooks notifies observers off the request path. A panicking hook is
// logged, never propagated.
func (e *Engine) runHooks(txn *Transaction) {
	for _, h := range e.hooks {
		hook := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("ledger hook panicked", "txn_id", txn.ID, "panic", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			hook(ctx, txn)
		}()
	}
}
