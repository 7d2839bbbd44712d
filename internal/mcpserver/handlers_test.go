package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewWalletClient(Config{APIURL: ts.URL, APIToken: "support_token"})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewWalletClient(Config{APIURL: ts.URL, APIToken: "tok_secret"})
	_, err := client.GetBalance(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok_secret", gotAuth)
}

func TestClientSurfacesAPIErrorMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "wallet_not_found",
			"message": "no wallet for user",
		})
	}))
	defer ts.Close()

	client := NewWalletClient(Config{APIURL: ts.URL, APIToken: "tok"})
	_, err := client.GetBalance(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no wallet for user")
}

func TestHandleGetBalance(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/user_1/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":           "user_1",
			"balance_wc":        150,
			"escrow_balance_wc": 25,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetBalance(context.Background(), makeRequest(map[string]any{"user_id": "user_1"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Spendable: 150 WC")
	assert.Contains(t, text, "In escrow: 25 WC")
	assert.Contains(t, text, "Total:     175 WC")
}

func TestHandleGetBalanceMissingUserID(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleGetBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetTransactions(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/user_1/transactions", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transactions": []map[string]any{
				{"id": "txn_1", "type": "debit", "amount_wc": -30, "balance_after_wc": 70, "description": "booking", "created_at": now},
				{"id": "txn_2", "type": "credit", "amount_wc": 100, "balance_after_wc": 100, "description": "stripe_payment", "created_at": now.Add(-time.Hour)},
			},
			"has_more": true,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetTransactions(context.Background(), makeRequest(map[string]any{
		"user_id": "user_1",
		"limit":   5,
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "2 transaction(s)")
	assert.Contains(t, text, "debit")
	assert.Contains(t, text, "stripe_payment")
	assert.Contains(t, text, "More transactions available")
}

func TestHandleGetAutoTopup(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":      "user_1",
			"enabled":      true,
			"threshold_wc": 50,
			"amount_wc":    100,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetAutoTopup(context.Background(), makeRequest(map[string]any{"user_id": "user_1"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "enabled")
	assert.Contains(t, text, "below: 50 WC")
	assert.Contains(t, text, "100 WC each time")
}

func TestHandleEscrowStatus(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrow/bookings/bkg_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"booking_id":     "bkg_1",
			"user_id":        "user_1",
			"locked_wc":      80,
			"released_wc":    30,
			"outstanding_wc": 50,
		})
	}))
	defer cleanup()

	result, err := h.HandleEscrowStatus(context.Background(), makeRequest(map[string]any{"booking_id": "bkg_1"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "booking bkg_1")
	assert.Contains(t, text, "Locked:      80 WC")
	assert.Contains(t, text, "Outstanding: 50 WC")
}

func TestHandleListEscrowEmpty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"escrow_locks": []any{}})
	}))
	defer cleanup()

	result, err := h.HandleListEscrow(context.Background(), makeRequest(map[string]any{"user_id": "user_1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No escrow records")
}
