// Package reconciliation verifies the cached wallet balances against
// the transaction log.
//
// The log is the source of truth. The balance columns on wallets are
// caches maintained transactionally with each append, so any drift
// means a bug or manual tampering and is worth an alert.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/metrics"
)

// Mismatch is one wallet whose cache disagrees with the log.
type Mismatch struct {
	UserID          string `json:"user_id"`
	CachedBalanceWC int64  `json:"cached_balance_wc"`
	LedgerBalanceWC int64  `json:"ledger_balance_wc"`
	CachedEscrowWC  int64  `json:"cached_escrow_wc"`
	LedgerEscrowWC  int64  `json:"ledger_escrow_wc"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RanAt        time.Time  `json:"ran_at"`
	Duration     string     `json:"duration"`
	UsersChecked int        `json:"users_checked"`
	Mismatches   []Mismatch `json:"mismatches"`
}

// Clean reports whether every wallet matched.
func (r *Report) Clean() bool {
	return len(r.Mismatches) == 0
}

// Checker runs reconciliation passes over the ledger store.
type Checker struct {
	store  ledger.Store
	logger *slog.Logger
}

func NewChecker(store ledger.Store, logger *slog.Logger) *Checker {
	return &Checker{store: store, logger: logger}
}

// Run recomputes every wallet's balances from the log and compares
// them with the cached columns.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	userIDs, err := c.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	report := &Report{RanAt: start.UTC()}
	for _, userID := range userIDs {
		mismatch, err := c.checkUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		report.UsersChecked++
		if mismatch != nil {
			report.Mismatches = append(report.Mismatches, *mismatch)
		}
	}

	report.Duration = time.Since(start).String()
	if !report.Clean() {
		metrics.ReconciliationMismatches.Add(float64(len(report.Mismatches)))
		for _, m := range report.Mismatches {
			c.logger.Error("wallet cache drift detected",
				"user_id", m.UserID,
				"cached_balance_wc", m.CachedBalanceWC,
				"ledger_balance_wc", m.LedgerBalanceWC,
				"cached_escrow_wc", m.CachedEscrowWC,
				"ledger_escrow_wc", m.LedgerEscrowWC,
			)
		}
	} else {
		c.logger.Info("reconciliation clean",
			"users_checked", report.UsersChecked,
			"duration", report.Duration,
		)
	}
	return report, nil
}

func (c *Checker) checkUser(ctx context.Context, userID string) (*Mismatch, error) {
	cachedBalance, err := c.store.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("balance for %s: %w", userID, err)
	}
	cachedEscrow, err := c.store.EscrowBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("escrow balance for %s: %w", userID, err)
	}
	ledgerBalance, err := c.store.SumAmounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum amounts for %s: %w", userID, err)
	}
	ledgerEscrow, err := c.store.SumEscrow(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum escrow for %s: %w", userID, err)
	}

	if cachedBalance == ledgerBalance && cachedEscrow == ledgerEscrow {
		return nil, nil
	}
	return &Mismatch{
		UserID:          userID,
		CachedBalanceWC: cachedBalance,
		LedgerBalanceWC: ledgerBalance,
		CachedEscrowWC:  cachedEscrow,
		LedgerEscrowWC:  ledgerEscrow,
	}, nil
}
