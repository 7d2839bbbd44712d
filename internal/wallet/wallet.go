// Package wallet manages per-user wallet records: the auto top-up
// policy configuration and read views over the ledger's balances.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithly/walletd/internal/ledger"
)

// LowBalanceThresholdWC is the platform-wide balance level below which
// a wallet is considered low. 99 is low, 100 is not.
const LowBalanceThresholdWC = 100

// Auto top-up defaults applied at wallet creation.
const (
	DefaultAutoTopupEnabled     = true
	DefaultAutoTopupThresholdWC = 50
	DefaultAutoTopupAmountWC    = 100
)

// Bounds enforced when a user updates their auto top-up configuration.
const (
	MinAutoTopupThresholdWC = 0
	MaxAutoTopupThresholdWC = 100
	MinAutoTopupAmountWC    = 50
	MaxAutoTopupAmountWC    = 500
)

var (
	ErrConfigNotFound   = errors.New("wallet config not found")
	ErrConfigOutOfRange = errors.New("auto top-up config out of range")
)

// AutoTopupConfig is a user's auto top-up policy.
type AutoTopupConfig struct {
	UserID      string    `json:"user_id"`
	Enabled     bool      `json:"enabled"`
	ThresholdWC int64     `json:"threshold_wc"`
	AmountWC    int64     `json:"amount_wc"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Wallet is the combined view handed to clients: cached balances plus
// the top-up policy.
type Wallet struct {
	UserID          string          `json:"user_id"`
	BalanceWC       int64           `json:"balance_wc"`
	EscrowBalanceWC int64           `json:"escrow_balance_wc"`
	AutoTopup       AutoTopupConfig `json:"auto_topup"`
}

// Eligibility is the result of an auto top-up policy check. The check is
// read-only; initiating a charge is the caller's business.
type Eligibility struct {
	Eligible         bool  `json:"eligible"`
	CurrentBalanceWC int64 `json:"current_balance_wc"`
	ThresholdWC      int64 `json:"threshold_wc"`
	TopupAmountWC    int64 `json:"topup_amount_wc"`
}

// Store persists auto top-up configurations.
type Store interface {
	// EnsureConfig creates the default config for a user if absent.
	EnsureConfig(ctx context.Context, userID string) error
	GetConfig(ctx context.Context, userID string) (*AutoTopupConfig, error)
	UpdateConfig(ctx context.Context, cfg *AutoTopupConfig) error
}

// Service combines the config store with the ledger's balance reads.
type Service struct {
	store  Store
	engine *ledger.Engine
	logger *slog.Logger
}

// NewService creates a wallet service.
func NewService(store Store, engine *ledger.Engine, logger *slog.Logger) *Service {
	return &Service{store: store, engine: engine, logger: logger}
}

// Create provisions a wallet for the user with default policy. Creating
// an existing wallet is a no-op.
func (s *Service) Create(ctx context.Context, userID string) (*Wallet, error) {
	if err := s.engine.CreateWallet(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.EnsureConfig(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet config: %w", err)
	}
	return s.Get(ctx, userID)
}

// Get returns the combined wallet view.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	balance, err := s.engine.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	escrow, err := s.engine.EscrowBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.store.GetConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		UserID:          userID,
		BalanceWC:       balance,
		EscrowBalanceWC: escrow,
		AutoTopup:       *cfg,
	}, nil
}

// GetAutoTopupConfig returns the user's top-up policy.
func (s *Service) GetAutoTopupConfig(ctx context.Context, userID string) (*AutoTopupConfig, error) {
	return s.store.GetConfig(ctx, userID)
}

// UpdateAutoTopupConfig validates and persists new policy settings.
func (s *Service) UpdateAutoTopupConfig(ctx context.Context, cfg *AutoTopupConfig) (*AutoTopupConfig, error) {
	if cfg.ThresholdWC < MinAutoTopupThresholdWC || cfg.ThresholdWC > MaxAutoTopupThresholdWC {
		return nil, fmt.Errorf("%w: threshold must be between %d and %d",
			ErrConfigOutOfRange, MinAutoTopupThresholdWC, MaxAutoTopupThresholdWC)
	}
	if cfg.AmountWC < MinAutoTopupAmountWC || cfg.AmountWC > MaxAutoTopupAmountWC {
		return nil, fmt.Errorf("%w: amount must be between %d and %d",
			ErrConfigOutOfRange, MinAutoTopupAmountWC, MaxAutoTopupAmountWC)
	}

	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("update wallet config: %w", err)
	}

	s.logger.Info("auto top-up config updated",
		"user_id", cfg.UserID,
		"enabled", cfg.Enabled,
		"threshold_wc", cfg.ThresholdWC,
		"amount_wc", cfg.AmountWC,
	)
	return cfg, nil
}

// IsLowBalance reports whether the user's balance is below the platform
// low-balance line, along with the current balance.
func (s *Service) IsLowBalance(ctx context.Context, userID string) (bool, int64, error) {
	balance, err := s.engine.Balance(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return balance < LowBalanceThresholdWC, balance, nil
}

// CheckAutoTopupEligibility evaluates the user's top-up policy against
// their current balance.
func (s *Service) CheckAutoTopupEligibility(ctx context.Context, userID string) (*Eligibility, error) {
	balance, err := s.engine.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.store.GetConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Eligibility{
		Eligible:         cfg.Enabled && balance < cfg.ThresholdWC,
		CurrentBalanceWC: balance,
		ThresholdWC:      cfg.ThresholdWC,
		TopupAmountWC:    cfg.AmountWC,
	}, nil
}

// EscrowBalance returns the user's escrowed amount.
func (s *Service) EscrowBalance(ctx context.Context, userID string) (int64, error) {
	return s.engine.EscrowBalance(ctx, userID)
}

func defaultConfig(userID string) *AutoTopupConfig {
	return &AutoTopupConfig{
		UserID:      userID,
		Enabled:     DefaultAutoTopupEnabled,
		ThresholdWC: DefaultAutoTopupThresholdWC,
		AmountWC:    DefaultAutoTopupAmountWC,
		UpdatedAt:   time.Now().UTC(),
	}
}
