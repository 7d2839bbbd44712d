package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the wallet MCP server. All tools are read-only:
// support agents inspect wallets, they never move coins.

var ToolGetBalance = mcp.NewTool("get_balance",
	mcp.WithDescription(
		"Look up a user's current Worship Coin balance. "+
			"Shows spendable coins and coins held in escrow for bookings."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID")),
)

var ToolGetTransactions = mcp.NewTool("get_transactions",
	mcp.WithDescription(
		"List a user's recent coin transactions, newest first. "+
			"Each entry shows the type (credit, debit, escrow_lock, escrow_release), "+
			"the signed amount, and the balance after it applied."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 50, max 100)")),
)

var ToolGetAutoTopup = mcp.NewTool("get_autotopup",
	mcp.WithDescription(
		"Show a user's auto top-up settings: whether it is enabled, the balance "+
			"threshold that triggers it, and the amount purchased each time."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID")),
)

var ToolEscrowStatus = mcp.NewTool("escrow_status",
	mcp.WithDescription(
		"Look up the escrow held for a booking: how much was locked, how much "+
			"has been released back, and what is still outstanding."),
	mcp.WithString("booking_id",
		mcp.Required(),
		mcp.Description("The booking's ID")),
)

var ToolListEscrow = mcp.NewTool("list_escrow",
	mcp.WithDescription(
		"List all escrow records for a user across their bookings, newest first."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID")),
)
