// Faucet bot MCP server.
// Exposes the bot's status and run history over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/faucetbot/internal/mcp"
)

func main() {
	botURL := os.Getenv("FAUCETBOT_URL")
	if botURL == "" {
		botURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"faucetbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(botURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
