package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faithly/walletd/internal/pagination"
)

func TestMemoryStoreListByUserTimestampTies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateWallet(ctx, "user_1"))

	// Four credits sharing one timestamp: paging must walk the
	// (created_at, id) tuple, never skipping a tied row.
	now := time.Now().UTC()
	ids := []string{"txn_a", "txn_b", "txn_c", "txn_d"}
	for i, id := range ids {
		require.NoError(t, s.Append(ctx, &Transaction{
			ID:           id,
			UserID:       "user_1",
			Type:         TypeCredit,
			Amount:       1,
			BalanceAfter: int64(i + 1),
			CreatedAt:    now,
		}))
	}

	page1, err := s.ListByUser(ctx, "user_1", 2, nil)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "txn_d", page1[0].ID)
	assert.Equal(t, "txn_c", page1[1].ID)

	last := page1[len(page1)-1]
	page2, err := s.ListByUser(ctx, "user_1", 2, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "txn_b", page2[0].ID)
	assert.Equal(t, "txn_a", page2[1].ID)
}
