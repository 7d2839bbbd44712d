package wallet

import (
	"context"
	"log/slog"

	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/metrics"
)

// EventEmitter publishes wallet events to interested parties (outbound
// webhooks, realtime feed). Emission is best-effort.
type EventEmitter interface {
	Emit(ctx context.Context, event string, payload interface{})
}

// Event names published by the policy checker.
const (
	EventLowBalance        = "wallet.low_balance"
	EventAutoTopupEligible = "wallet.autotopup_eligible"
)

// LowBalancePayload is the body of a wallet.low_balance event.
type LowBalancePayload struct {
	UserID      string `json:"user_id"`
	BalanceWC   int64  `json:"balance_wc"`
	ThresholdWC int64  `json:"threshold_wc"`
}

// AutoTopupPayload is the body of a wallet.autotopup_eligible event.
type AutoTopupPayload struct {
	UserID           string `json:"user_id"`
	CurrentBalanceWC int64  `json:"current_balance_wc"`
	ThresholdWC      int64  `json:"threshold_wc"`
	TopupAmountWC    int64  `json:"topup_amount_wc"`
}

// PolicyChecker evaluates the balance policy after ledger transactions.
// It is registered as a ledger hook, so it runs off the request path and
// can never fail a balance change.
type PolicyChecker struct {
	service *Service
	emitter EventEmitter
	logger  *slog.Logger
}

// NewPolicyChecker creates a policy checker. emitter may be nil.
func NewPolicyChecker(service *Service, emitter EventEmitter, logger *slog.Logger) *PolicyChecker {
	return &PolicyChecker{service: service, emitter: emitter, logger: logger}
}

// Hook returns the ledger hook. Only transactions that lowered the
// balance are interesting.
func (p *PolicyChecker) Hook() ledger.Hook {
	return func(ctx context.Context, txn *ledger.Transaction) {
		if txn.Amount >= 0 {
			return
		}
		p.check(ctx, txn.UserID, txn.BalanceAfter)
	}
}

func (p *PolicyChecker) check(ctx context.Context, userID string, balance int64) {
	if balance < LowBalanceThresholdWC {
		metrics.LowBalanceAlertsTotal.Inc()
		p.logger.Warn("low balance",
			"user_id", userID,
			"balance_wc", balance,
			"threshold_wc", int64(LowBalanceThresholdWC),
		)
		p.emit(ctx, EventLowBalance, LowBalancePayload{
			UserID:      userID,
			BalanceWC:   balance,
			ThresholdWC: LowBalanceThresholdWC,
		})
	}

	elig, err := p.service.CheckAutoTopupEligibility(ctx, userID)
	if err != nil {
		p.logger.Error("auto top-up eligibility check failed", "user_id", userID, "error", err)
		return
	}
	if !elig.Eligible {
		return
	}

	metrics.AutoTopUpTriggersTotal.Inc()
	p.logger.Info("auto top-up eligible",
		"user_id", userID,
		"balance_wc", elig.CurrentBalanceWC,
		"threshold_wc", elig.ThresholdWC,
		"topup_amount_wc", elig.TopupAmountWC,
	)
	p.emit(ctx, EventAutoTopupEligible, AutoTopupPayload{
		UserID:           userID,
		CurrentBalanceWC: elig.CurrentBalanceWC,
		ThresholdWC:      elig.ThresholdWC,
		TopupAmountWC:    elig.TopupAmountWC,
	})
}

func (p *PolicyChecker) emit(ctx context.Context, event string, payload interface{}) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(ctx, event, payload)
}
