// Package escrow tracks per-booking escrow locks on top of the ledger.
//
// The ledger's escrow_lock and escrow_release transactions move coins
// between the spendable and escrowed balances; this package keeps the
// per-booking accounting so a release can never exceed what the booking
// actually locked.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/metrics"
	"github.com/faithly/walletd/internal/syncutil"
)

var (
	// ErrLockNotFound means no escrow has been locked for the booking.
	ErrLockNotFound = errors.New("escrow lock not found")
	// ErrEscrowMismatch means a release asked for more than the booking
	// still holds.
	ErrEscrowMismatch = errors.New("release exceeds outstanding escrow")
	// ErrUserMismatch means the caller named a different user than the
	// one who locked the escrow.
	ErrUserMismatch = errors.New("escrow lock belongs to a different user")
)

// Lock is the per-booking escrow record. OutstandingWC is what remains
// held: LockedWC minus ReleasedWC.
type Lock struct {
	BookingID  string    `json:"booking_id"`
	UserID     string    `json:"user_id"`
	LockedWC   int64     `json:"locked_wc"`
	ReleasedWC int64     `json:"released_wc"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OutstandingWC returns the amount still held for the booking.
func (l *Lock) OutstandingWC() int64 {
	return l.LockedWC - l.ReleasedWC
}

// Store persists per-booking escrow records.
type Store interface {
	// AddLock records amount more coins locked for the booking,
	// creating the record if needed.
	AddLock(ctx context.Context, bookingID, userID string, amount int64) error
	// AddRelease records amount coins released for the booking.
	AddRelease(ctx context.Context, bookingID string, amount int64) error
	// Get returns the booking's record or ErrLockNotFound.
	Get(ctx context.Context, bookingID string) (*Lock, error)
	// ListByUser returns all records for the user, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Lock, error)
}

// Service coordinates escrow locks with the ledger. Operations on the
// same booking are serialized so the outstanding check and the ledger
// write cannot interleave.
type Service struct {
	store  Store
	engine *ledger.Engine
	locks  *syncutil.ContextShardedMutex
	logger *slog.Logger
}

func NewService(store Store, engine *ledger.Engine, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		engine: engine,
		locks:  syncutil.NewContextShardedMutex(),
		logger: logger,
	}
}

// LockRequest asks to hold coins for a booking.
type LockRequest struct {
	UserID      string
	BookingID   string
	AmountWC    int64
	Description string
}

// ReleaseRequest asks to return held coins to the spendable balance.
type ReleaseRequest struct {
	UserID      string
	BookingID   string
	AmountWC    int64
	Description string
}

// LockFunds moves coins from the user's spendable balance into escrow
// for the booking. The ledger enforces sufficient funds.
func (s *Service) LockFunds(ctx context.Context, req LockRequest) (*ledger.Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.Get(ctx, req.BookingID)
	if err != nil && !errors.Is(err, ErrLockNotFound) {
		metrics.EscrowOpsTotal.WithLabelValues("lock", "error").Inc()
		return nil, err
	}
	if existing != nil && existing.UserID != req.UserID {
		metrics.EscrowOpsTotal.WithLabelValues("lock", "rejected").Inc()
		return nil, ErrUserMismatch
	}

	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("escrow lock for booking %s", req.BookingID)
	}
	txn, err := s.engine.Apply(ctx, ledger.ApplyRequest{
		UserID:            req.UserID,
		Type:              ledger.TypeEscrowLock,
		Amount:            req.AmountWC,
		Description:       desc,
		RelatedEntityType: "booking",
		RelatedEntityID:   req.BookingID,
	})
	if err != nil {
		metrics.EscrowOpsTotal.WithLabelValues("lock", "rejected").Inc()
		return nil, err
	}

	if err := s.store.AddLock(ctx, req.BookingID, req.UserID, req.AmountWC); err != nil {
		// The per-booking record is the release guard. Without it the
		// coins would sit in escrow with no path back, so undo the
		// ledger hold before reporting the failure.
		metrics.EscrowOpsTotal.WithLabelValues("lock", "error").Inc()
		s.compensateLock(ctx, req, txn.ID)
		return nil, fmt.Errorf("record escrow lock: %w", err)
	}

	metrics.EscrowOpsTotal.WithLabelValues("lock", "applied").Inc()
	s.logger.Info("escrow locked",
		"booking_id", req.BookingID,
		"user_id", req.UserID,
		"amount_wc", req.AmountWC,
		"txn_id", txn.ID,
	)
	return txn, nil
}

// compensateLock releases the coins held by a lock whose booking record
// failed to write. Runs detached from the caller's context so a
// cancellation cannot strand the hold.
func (s *Service) compensateLock(ctx context.Context, req LockRequest, lockTxnID string) {
	_, err := s.engine.Apply(context.WithoutCancel(ctx), ledger.ApplyRequest{
		UserID:            req.UserID,
		Type:              ledger.TypeEscrowRelease,
		Amount:            req.AmountWC,
		Description:       fmt.Sprintf("reversal of failed escrow lock for booking %s", req.BookingID),
		RelatedEntityType: "booking",
		RelatedEntityID:   req.BookingID,
	})
	if err != nil {
		// Reconciliation will flag the drift; an admin adjustment is
		// the remaining way out.
		s.logger.Error("escrow lock reversal failed, funds remain held",
			"booking_id", req.BookingID,
			"user_id", req.UserID,
			"txn_id", lockTxnID,
			"error", err,
		)
		return
	}
	s.logger.Warn("escrow lock reversed after record write failure",
		"booking_id", req.BookingID,
		"user_id", req.UserID,
		"txn_id", lockTxnID,
	)
}

// ReleaseFunds returns held coins to the user's spendable balance. The
// amount must not exceed what the booking still holds.
func (s *Service) ReleaseFunds(ctx context.Context, req ReleaseRequest) (*ledger.Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.Get(ctx, req.BookingID)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			metrics.EscrowOpsTotal.WithLabelValues("release", "rejected").Inc()
		} else {
			metrics.EscrowOpsTotal.WithLabelValues("release", "error").Inc()
		}
		return nil, err
	}
	if existing.UserID != req.UserID {
		metrics.EscrowOpsTotal.WithLabelValues("release", "rejected").Inc()
		return nil, ErrUserMismatch
	}
	if req.AmountWC > existing.OutstandingWC() {
		metrics.EscrowOpsTotal.WithLabelValues("release", "rejected").Inc()
		return nil, fmt.Errorf("%w: requested %d, outstanding %d",
			ErrEscrowMismatch, req.AmountWC, existing.OutstandingWC())
	}

	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("escrow release for booking %s", req.BookingID)
	}
	txn, err := s.engine.Apply(ctx, ledger.ApplyRequest{
		UserID:            req.UserID,
		Type:              ledger.TypeEscrowRelease,
		Amount:            req.AmountWC,
		Description:       desc,
		RelatedEntityType: "booking",
		RelatedEntityID:   req.BookingID,
	})
	if err != nil {
		metrics.EscrowOpsTotal.WithLabelValues("release", "rejected").Inc()
		return nil, err
	}

	if err := s.store.AddRelease(ctx, req.BookingID, req.AmountWC); err != nil {
		metrics.EscrowOpsTotal.WithLabelValues("release", "error").Inc()
		s.logger.Error("escrow release record failed after ledger apply",
			"booking_id", req.BookingID,
			"user_id", req.UserID,
			"txn_id", txn.ID,
			"error", err,
		)
		return nil, fmt.Errorf("record escrow release: %w", err)
	}

	metrics.EscrowOpsTotal.WithLabelValues("release", "applied").Inc()
	s.logger.Info("escrow released",
		"booking_id", req.BookingID,
		"user_id", req.UserID,
		"amount_wc", req.AmountWC,
		"txn_id", txn.ID,
	)
	return txn, nil
}

// Status returns the booking's escrow record.
func (s *Service) Status(ctx context.Context, bookingID string) (*Lock, error) {
	return s.store.Get(ctx, bookingID)
}

// ListByUser returns all escrow records for the user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Lock, error) {
	return s.store.ListByUser(ctx, userID)
}
