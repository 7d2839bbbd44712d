package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the connection settings for the wallet API.
type Config struct {
	APIURL   string // base URL, e.g. "http://localhost:8080"
	APIToken string // support or admin bearer token
}

// WalletClient is a pure HTTP client for the wallet API.
type WalletClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewWalletClient(cfg Config) *WalletClient {
	return &WalletClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *WalletClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return json.RawMessage(respBody), nil
}

// GetBalance returns a user's spendable and escrowed balance.
func (c *WalletClient) GetBalance(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/wallets/"+userID+"/balance", nil)
}

// GetWallet returns the full wallet view including top-up policy.
func (c *WalletClient) GetWallet(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/wallets/"+userID, nil)
}

// GetTransactions returns a page of the user's transaction history.
func (c *WalletClient) GetTransactions(ctx context.Context, userID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/v1/wallets/"+userID+"/transactions", q)
}

// GetAutoTopup returns the user's auto top-up settings.
func (c *WalletClient) GetAutoTopup(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/wallets/"+userID+"/auto-topup", nil)
}

// GetEscrowStatus returns the escrow record for a booking.
func (c *WalletClient) GetEscrowStatus(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/escrow/bookings/"+bookingID, nil)
}

// ListEscrow returns all escrow records for a user.
func (c *WalletClient) ListEscrow(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/wallets/"+userID+"/escrow", nil)
}
