package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with the wallet support
// tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("walletd", "0.1.0")
	client := NewWalletClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetBalance, h.HandleGetBalance)
	s.AddTool(ToolGetTransactions, h.HandleGetTransactions)
	s.AddTool(ToolGetAutoTopup, h.HandleGetAutoTopup)
	s.AddTool(ToolEscrowStatus, h.HandleEscrowStatus)
	s.AddTool(ToolListEscrow, h.HandleListEscrow)

	return s
}
