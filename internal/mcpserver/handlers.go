package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *WalletClient
}

func NewHandlers(client *WalletClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetBalance returns a user's balances.
func (h *Handlers) HandleGetBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetBalance(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTransactions lists recent transactions.
func (h *Handlers) HandleGetTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", 0)

	raw, err := h.client.GetTransactions(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transactions: %v", err)), nil
	}

	text, err := formatTransactions(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetAutoTopup shows top-up policy.
func (h *Handlers) HandleGetAutoTopup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetAutoTopup(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get auto top-up settings: %v", err)), nil
	}

	text, err := formatAutoTopup(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse settings: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEscrowStatus shows a booking's escrow.
func (h *Handlers) HandleEscrowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookingID := req.GetString("booking_id", "")
	if bookingID == "" {
		return mcp.NewToolResultError("booking_id is required"), nil
	}

	raw, err := h.client.GetEscrowStatus(ctx, bookingID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow status: %v", err)), nil
	}

	text, err := formatEscrowStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListEscrow lists all escrow records for a user.
func (h *Handlers) HandleListEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.ListEscrow(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list escrow: %v", err)), nil
	}

	text, err := formatEscrowList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow list: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type balanceResponse struct {
	UserID          string `json:"user_id"`
	BalanceWC       int64  `json:"balance_wc"`
	EscrowBalanceWC int64  `json:"escrow_balance_wc"`
}

func formatBalance(raw json.RawMessage) (string, error) {
	var b balanceResponse
	if err := json.Unmarshal(raw, &b); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet for %s:\n", b.UserID)
	fmt.Fprintf(&sb, "  Spendable: %d WC\n", b.BalanceWC)
	fmt.Fprintf(&sb, "  In escrow: %d WC\n", b.EscrowBalanceWC)
	fmt.Fprintf(&sb, "  Total:     %d WC", b.BalanceWC+b.EscrowBalanceWC)
	return sb.String(), nil
}

type transactionEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	AmountWC     int64     `json:"amount_wc"`
	BalanceAfter int64     `json:"balance_after_wc"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

type transactionsResponse struct {
	Transactions []transactionEntry `json:"transactions"`
	HasMore      bool               `json:"has_more"`
}

func formatTransactions(raw json.RawMessage) (string, error) {
	var resp transactionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Transactions) == 0 {
		return "No transactions found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d transaction(s), newest first:\n\n", len(resp.Transactions))
	for _, txn := range resp.Transactions {
		fmt.Fprintf(&sb, "%s  %-14s %+6d WC  balance %d WC  %s\n",
			txn.CreatedAt.Format("2006-01-02 15:04"),
			txn.Type, txn.AmountWC, txn.BalanceAfter, txn.Description)
	}
	if resp.HasMore {
		sb.WriteString("\nMore transactions available; increase the limit or page with the API.")
	}
	return sb.String(), nil
}

type autoTopupResponse struct {
	UserID      string `json:"user_id"`
	Enabled     bool   `json:"enabled"`
	ThresholdWC int64  `json:"threshold_wc"`
	AmountWC    int64  `json:"amount_wc"`
}

func formatAutoTopup(raw json.RawMessage) (string, error) {
	var cfg autoTopupResponse
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", err
	}

	if !cfg.Enabled {
		return fmt.Sprintf("Auto top-up for %s: disabled", cfg.UserID), nil
	}
	return fmt.Sprintf(
		"Auto top-up for %s: enabled\n  Triggers below: %d WC\n  Purchases: %d WC each time",
		cfg.UserID, cfg.ThresholdWC, cfg.AmountWC), nil
}

type escrowStatusResponse struct {
	BookingID     string `json:"booking_id"`
	UserID        string `json:"user_id"`
	LockedWC      int64  `json:"locked_wc"`
	ReleasedWC    int64  `json:"released_wc"`
	OutstandingWC int64  `json:"outstanding_wc"`
}

func formatEscrowStatus(raw json.RawMessage) (string, error) {
	var s escrowStatusResponse
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow for booking %s (user %s):\n", s.BookingID, s.UserID)
	fmt.Fprintf(&sb, "  Locked:      %d WC\n", s.LockedWC)
	fmt.Fprintf(&sb, "  Released:    %d WC\n", s.ReleasedWC)
	fmt.Fprintf(&sb, "  Outstanding: %d WC", s.OutstandingWC)
	return sb.String(), nil
}

type escrowListResponse struct {
	EscrowLocks []escrowStatusResponse `json:"escrow_locks"`
}

func formatEscrowList(raw json.RawMessage) (string, error) {
	var resp escrowListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.EscrowLocks) == 0 {
		return "No escrow records found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d escrow record(s):\n\n", len(resp.EscrowLocks))
	for _, l := range resp.EscrowLocks {
		fmt.Fprintf(&sb, "Booking %s: locked %d WC, released %d WC, outstanding %d WC\n",
			l.BookingID, l.LockedWC, l.ReleasedWC, l.LockedWC-l.ReleasedWC)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
