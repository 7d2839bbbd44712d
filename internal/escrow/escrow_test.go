package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faithly/walletd/internal/ledger"
)

func testService(t *testing.T) (*Service, *ledger.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.New(ledger.NewMemoryStore(), logger, time.Second)
	return NewService(NewMemoryStore(), engine, logger), engine
}

func fund(t *testing.T, engine *ledger.Engine, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, engine.CreateWallet(ctx, userID))
	_, err := engine.Apply(ctx, ledger.ApplyRequest{
		UserID:      userID,
		Type:        ledger.TypeCredit,
		Amount:      amount,
		Description: "funding",
	})
	require.NoError(t, err)
}

func TestLockAndReleaseRoundTrip(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()
	fund(t, engine, "user_1", 200)

	txn, err := svc.LockFunds(ctx, LockRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 80})
	require.NoError(t, err)
	assert.Equal(t, int64(120), txn.BalanceAfter)

	escrowBal, err := engine.EscrowBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), escrowBal)

	status, err := svc.Status(ctx, "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), status.OutstandingWC())

	txn, err = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 80})
	require.NoError(t, err)
	assert.Equal(t, int64(200), txn.BalanceAfter)

	escrowBal, err = engine.EscrowBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), escrowBal)

	status, err = svc.Status(ctx, "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.OutstandingWC())
}

func TestLockInsufficientFunds(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()
	fund(t, engine, "user_1", 50)

	_, err := svc.LockFunds(ctx, LockRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 60})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// Nothing recorded for the booking.
	_, err = svc.Status(ctx, "bkg_1")
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestReleaseExceedsOutstanding(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()
	fund(t, engine, "user_1", 200)

	_, err := svc.LockFunds(ctx, LockRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 50})
	require.NoError(t, err)

	_, err = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 60})
	assert.ErrorIs(t, err, ErrEscrowMismatch)

	// Partial release, then the remainder cannot be exceeded either.
	_, err = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 30})
	require.NoError(t, err)
	_, err = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 21})
	assert.ErrorIs(t, err, ErrEscrowMismatch)
	_, err = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 20})
	assert.NoError(t, err)
}

// failingLockStore rejects AddLock to exercise the reversal path.
type failingLockStore struct {
	Store
}

func (f *failingLockStore) AddLock(context.Context, string, string, int64) error {
	return errors.New("write failed")
}

func TestLockReversedWhenRecordWriteFails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.New(ledger.NewMemoryStore(), logger, time.Second)
	svc := NewService(&failingLockStore{Store: NewMemoryStore()}, engine, logger)
	ctx := context.Background()
	fund(t, engine, "user_1", 100)

	_, err := svc.LockFunds(ctx, LockRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 40})
	require.Error(t, err)

	// The hold was undone: nothing left in escrow, balance intact.
	escrowBal, err := engine.EscrowBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), escrowBal)

	balance, err := engine.Balance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	_, err = svc.Status(ctx, "bkg_1")
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestReleaseUnknownBooking(t *testing.T) {
	svc, engine := testService(t)
	fund(t, engine, "user_1", 100)

	_, err := svc.ReleaseFunds(context.Background(), ReleaseRequest{UserID: "user_1", BookingID: "bkg_missing", AmountWC: 10})
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestLockUserMismatch(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()
	fund(t, engine, "user_1", 100)
	fund(t, engine, "user_2", 100)

	_, err := svc.LockFunds(ctx, LockRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 40})
	require.NoError(t, err)

	_, err = svc.LockFunds(ctx, LockRequest{UserID: "user_2", BookingID: "bkg_1", AmountWC: 40})
	assert.ErrorIs(t, err, ErrUserMismatch)

	_, err = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_2", BookingID: "bkg_1", AmountWC: 40})
	assert.ErrorIs(t, err, ErrUserMismatch)
}

func TestConcurrentReleasesRespectOutstanding(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()
	fund(t, engine, "user_1", 100)

	_, err := svc.LockFunds(ctx, LockRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 50})
	require.NoError(t, err)

	// Two releases of 30 against 50 held: exactly one can win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ReleaseFunds(ctx, ReleaseRequest{UserID: "user_1", BookingID: "bkg_1", AmountWC: 30})
		}(i)
	}
	wg.Wait()

	var ok, mismatched int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEscrowMismatch):
			mismatched++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, mismatched)

	status, err := svc.Status(ctx, "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), status.OutstandingWC())
}
