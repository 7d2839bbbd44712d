package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/faithly/walletd/internal/pagination"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*walletState
	txns    []*Transaction
	byRef   map[string]*Transaction
}

type walletState struct {
	balance int64
	escrow  int64
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*walletState),
		byRef:   make(map[string]*Transaction),
	}
}

func (m *MemoryStore) CreateWallet(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[userID]; !ok {
		m.wallets[userID] = &walletState{}
	}
	return nil
}

func (m *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return w.balance, nil
}

func (m *MemoryStore) EscrowBalance(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return w.escrow, nil
}

func (m *MemoryStore) Append(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[txn.UserID]
	if !ok {
		return ErrWalletNotFound
	}

	if txn.PaymentReference != "" {
		if _, dup := m.byRef[txn.PaymentReference]; dup {
			return ErrDuplicateReference
		}
	}

	if w.balance+txn.Amount < 0 {
		return ErrInsufficientFunds
	}
	if txn.Type.Escrow() && w.escrow-txn.Amount < 0 {
		// escrow_release larger than what is locked
		return ErrInsufficientFunds
	}

	w.balance += txn.Amount
	if txn.Type.Escrow() {
		w.escrow -= txn.Amount
	}

	cp := *txn
	m.txns = append(m.txns, &cp)
	if cp.PaymentReference != "" {
		m.byRef[cp.PaymentReference] = &cp
	}
	return nil
}

func (m *MemoryStore) FindByPaymentReference(ctx context.Context, ref string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if txn, ok := m.byRef[ref]; ok {
		cp := *txn
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, txn := range m.txns {
		if txn.UserID != userID {
			continue
		}
		if before != nil {
			// Page on the (created_at, id) tuple so rows sharing the
			// cursor's timestamp are not skipped.
			if txn.CreatedAt.After(before.CreatedAt) {
				continue
			}
			if txn.CreatedAt.Equal(before.CreatedAt) && txn.ID >= before.ID {
				continue
			}
		}
		cp := *txn
		result = append(result, &cp)
	}

	// Newest first, id breaking timestamp ties
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SumAmounts(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, txn := range m.txns {
		if txn.UserID == userID {
			sum += txn.Amount
		}
	}
	return sum, nil
}

func (m *MemoryStore) SumEscrow(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, txn := range m.txns {
		if txn.UserID == userID && txn.Type.Escrow() {
			sum -= txn.Amount
		}
	}
	return sum, nil
}

func (m *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.wallets))
	for id := range m.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
