package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faithly/walletd/internal/ledger"
)

type fakeCheckout struct {
	mu       sync.Mutex
	sessions map[string]*CheckoutSession
	nextID   int
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{sessions: make(map[string]*CheckoutSession)}
}

func (f *fakeCheckout) CreateSession(_ context.Context, userID string, amountUSD, amountWC int64) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sess := &CheckoutSession{
		ID:            fmt.Sprintf("cs_test_%d", f.nextID),
		URL:           "https://checkout.stripe.test/pay",
		UserID:        userID,
		AmountWC:      amountWC,
		PaymentStatus: "unpaid",
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeCheckout) GetSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func testService(t *testing.T) (*Service, *ledger.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.New(ledger.NewMemoryStore(), logger, time.Second)
	return NewService(newFakeCheckout(), engine, logger), engine
}

func TestCreateCheckoutBounds(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.CreateCheckout(ctx, "user_1", 9)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = svc.CreateCheckout(ctx, "user_1", 1001)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	sess, err := svc.CreateCheckout(ctx, "user_1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sess.AmountWC)

	sess, err = svc.CreateCheckout(ctx, "user_1", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sess.AmountWC)
}

func TestCreditFromPayment(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()

	txn, err := svc.CreditFromPayment(ctx, "user_1", 100, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), txn.BalanceAfter)
	assert.Equal(t, "cs_test_abc", txn.PaymentReference)

	balance, err := engine.Balance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestCreditFromPaymentInvalidAmount(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()

	_, err := svc.CreditFromPayment(ctx, "user_1", 0, "cs_test_zero")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.CreditFromPayment(ctx, "user_1", -5, "cs_test_neg")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	// The rejected delivery must not have created a wallet.
	_, err = engine.Balance(ctx, "user_1")
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
}

func TestCreditFromPaymentReplay(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()

	first, err := svc.CreditFromPayment(ctx, "user_1", 100, "cs_test_abc")
	require.NoError(t, err)

	// Replays return the original transaction and credit nothing.
	for i := 0; i < 3; i++ {
		again, err := svc.CreditFromPayment(ctx, "user_1", 100, "cs_test_abc")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}

	balance, err := engine.Balance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestCreditFromPaymentConcurrentDeliveries(t *testing.T) {
	svc, engine := testService(t)
	ctx := context.Background()

	const deliveries = 8
	var wg sync.WaitGroup
	txns := make([]*ledger.Transaction, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txns[i], errs[i] = svc.CreditFromPayment(ctx, "user_1", 250, "cs_test_race")
		}(i)
	}
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, txns[i])
		assert.Equal(t, txns[0].ID, txns[i].ID)
	}

	balance, err := engine.Balance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), balance)
}

func TestSessionStatusNotFound(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.SessionStatus(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
