// Package payments turns Stripe checkout sessions into coin credits.
//
// Crediting is idempotent on the payment reference: however many times
// a webhook or poller delivers the same completed session, the coins
// land exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/metrics"
)

// Purchase limits in whole US dollars. One dollar buys one coin.
const (
	MinPurchaseUSD = 10
	MaxPurchaseUSD = 1000
	CoinsPerUSD    = 1
)

var (
	// ErrAmountOutOfRange means the purchase is outside the allowed
	// dollar range.
	ErrAmountOutOfRange = fmt.Errorf("purchase must be between $%d and $%d", MinPurchaseUSD, MaxPurchaseUSD)
	// ErrSessionNotFound means the checkout session does not exist.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// CheckoutSession is the subset of a Stripe session the service needs.
type CheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url,omitempty"`
	UserID        string `json:"user_id"`
	AmountWC      int64  `json:"amount_wc"`
	PaymentStatus string `json:"payment_status"`
	Completed     bool   `json:"completed"`
}

// CheckoutAPI abstracts the Stripe checkout calls so the service can be
// tested without the network.
type CheckoutAPI interface {
	CreateSession(ctx context.Context, userID string, amountUSD int64, amountWC int64) (*CheckoutSession, error)
	GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

// Service creates checkout sessions and credits completed payments.
type Service struct {
	checkout CheckoutAPI
	engine   *ledger.Engine
	logger   *slog.Logger
}

func NewService(checkout CheckoutAPI, engine *ledger.Engine, logger *slog.Logger) *Service {
	return &Service{checkout: checkout, engine: engine, logger: logger}
}

// CreateCheckout starts a Stripe checkout session for amountUSD dollars
// of coins.
func (s *Service) CreateCheckout(ctx context.Context, userID string, amountUSD int64) (*CheckoutSession, error) {
	if amountUSD < MinPurchaseUSD || amountUSD > MaxPurchaseUSD {
		return nil, ErrAmountOutOfRange
	}

	sess, err := s.checkout.CreateSession(ctx, userID, amountUSD, amountUSD*CoinsPerUSD)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info("checkout session created",
		"user_id", userID,
		"session_id", sess.ID,
		"amount_usd", amountUSD,
		"amount_wc", sess.AmountWC,
	)
	return sess, nil
}

// SessionStatus looks up a checkout session.
func (s *Service) SessionStatus(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	return s.checkout.GetSession(ctx, sessionID)
}

// CreditFromPayment credits coins for a completed payment. reference is
// the external payment identifier (Stripe session ID); replays of the
// same reference return the transaction written by the first delivery.
func (s *Service) CreditFromPayment(ctx context.Context, userID string, amountWC int64, reference string) (*ledger.Transaction, error) {
	// Reject bad amounts before touching the store: a malformed webhook
	// must not create a wallet as a side effect.
	if amountWC <= 0 {
		metrics.PaymentCreditsTotal.WithLabelValues("rejected").Inc()
		return nil, ledger.ErrInvalidAmount
	}

	if existing, err := s.engine.FindByPaymentReference(ctx, reference); err == nil && existing != nil {
		metrics.PaymentCreditsTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("payment already credited",
			"user_id", existing.UserID,
			"reference", reference,
			"txn_id", existing.ID,
		)
		return existing, nil
	}

	if err := s.engine.CreateWallet(ctx, userID); err != nil {
		metrics.PaymentCreditsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	txn, err := s.engine.Apply(ctx, ledger.ApplyRequest{
		UserID:           userID,
		Type:             ledger.TypeCredit,
		Amount:           amountWC,
		Description:      "stripe_payment",
		PaymentReference: reference,
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// Lost the race with a concurrent delivery. The winner's
		// transaction is the answer.
		winner, findErr := s.engine.FindByPaymentReference(ctx, reference)
		if findErr != nil {
			metrics.PaymentCreditsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("find winning credit for %s: %w", reference, findErr)
		}
		metrics.PaymentCreditsTotal.WithLabelValues("duplicate").Inc()
		return winner, nil
	}
	if err != nil {
		metrics.PaymentCreditsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.PaymentCreditsTotal.WithLabelValues("credited").Inc()
	s.logger.Info("payment credited",
		"user_id", userID,
		"amount_wc", amountWC,
		"reference", reference,
		"txn_id", txn.ID,
		"balance_after_wc", txn.BalanceAfter,
	)
	return txn, nil
}
