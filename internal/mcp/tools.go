package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// RegisterTools registers all faucet bot tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerHistory(s, client)
	registerRunDetail(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("faucetbot_status",
		gomcp.WithDescription("Get current faucet bot status: state, transaction counters, last claim round and swap pass, next scheduled swap, confirmation latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var st types.Status
		if err := client.GetJSON(ctx, "/v1/status", &st); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Faucet bot unreachable: %v\n\nIs the bot running with LISTEN_ADDR set?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(st)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("faucetbot_health",
		gomcp.WithDescription("Readiness check for the faucet bot. Checks RPC connectivity and whether the scheduler is still running."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		var httpErr *HTTPError
		if err != nil && !errors.As(err, &httpErr) {
			return gomcp.NewToolResultError(fmt.Sprintf("Faucet bot unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("faucetbot_history",
		gomcp.WithDescription("List recent claim rounds and swap passes, newest first."),
		gomcp.WithString("kind",
			gomcp.Description("Filter by run kind: claim_round or swap_pass (default: both)"),
			gomcp.Enum(string(types.RunClaimRound), string(types.RunSwapPass)),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max runs to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Number of runs to skip"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(req.GetInt("limit", 10)))
		if v := req.GetInt("offset", 0); v > 0 {
			q.Set("offset", strconv.Itoa(v))
		}
		if v := req.GetString("kind", ""); v != "" {
			q.Set("kind", v)
		}

		var page historyPage
		if err := client.GetJSON(ctx, "/v1/history?"+q.Encode(), &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(page)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("faucetbot_run",
		gomcp.WithDescription("Get one claim round or swap pass with its per-account, per-token results."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID (from faucetbot_history)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		var run types.RunDetail
		if err := client.GetJSON(ctx, "/v1/history/"+url.PathEscape(id), &run); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(run)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("faucetbot_delete_run",
		gomcp.WithDescription("Delete a run from history. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete(ctx, "/v1/history/"+url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

// historyPage mirrors the /v1/history response.
type historyPage struct {
	Runs   []types.RunSummary `json:"runs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// readiness mirrors the /ready response.
type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

// Response formatting functions

func formatStatus(st types.Status) string {
	symbols := make([]string, len(st.Tokens))
	for i, t := range st.Tokens {
		symbols[i] = t.Symbol
	}

	lines := joinLines(
		section("Faucet Bot Status"),
		kv("State", st.State),
		kv("Mode", st.Mode),
		kv("Chain ID", st.ChainID),
		kv("Accounts", st.Accounts),
		kv("Tokens", strings.Join(symbols, ", ")),
		kv("Started", formatTime(st.StartedAt)),
		kv("Claim Rounds", formatNumber(st.ClaimRounds)),
		kv("Swap Passes", formatNumber(st.SwapPasses)),
		kv("TXs Submitted", formatNumber(st.TxSubmitted)),
		kv("TXs Confirmed", formatNumber(st.TxConfirmed)),
		kv("TXs Failed", formatNumber(st.TxFailed)),
	)
	if st.NextSwapAt != nil {
		lines += "\n" + kv("Next Swap", formatTime(*st.NextSwapAt))
	}

	if st.LastClaimRound != nil {
		lines += "\n\n" + formatSummary("Last Claim Round", *st.LastClaimRound)
	}
	if st.LastSwapPass != nil {
		lines += "\n\n" + formatSummary("Last Swap Pass", *st.LastSwapPass)
	}

	if lat := st.ConfirmLatency; lat != nil {
		lines += "\n\n" + joinLines(
			section("Confirmation Latency"),
			kv("Samples", formatNumber(lat.Count)),
			kv("Min", formatMs(lat.Min)),
			kv("P50", formatMs(lat.P50)),
			kv("P90", formatMs(lat.P90)),
			kv("P99", formatMs(lat.P99)),
			kv("Max", formatMs(lat.Max)),
		)
	}

	return lines
}

func formatSummary(title string, s types.RunSummary) string {
	rate := 0.0
	if s.Units > 0 {
		rate = float64(s.Succeeded+s.Skipped) / float64(s.Units) * 100
	}
	return joinLines(
		section(title),
		kv("ID", s.ID),
		kv("Finished", formatTime(s.FinishedAt)),
		kv("All Succeeded", s.AllSucceeded),
		kv("Units", fmt.Sprintf("%d (%d ok, %d skipped, %d failed)", s.Units, s.Succeeded, s.Skipped, s.Failed)),
		kv("Success Rate", formatPct(rate)),
	)
}

func formatHealth(raw []byte) string {
	var r readiness
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}
	lines := section("Faucet Bot Health: " + state)

	for _, c := range r.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines += "\n" + line
	}

	return lines
}

func formatHistory(page historyPage) string {
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(page.Total)),
		"",
	)

	if len(page.Runs) == 0 {
		return lines + "\nNo runs found."
	}

	for _, r := range page.Runs {
		lines += fmt.Sprintf("\n### %s (%s)\n", r.ID, r.Kind)
		lines += joinLines(
			kv("Started", formatTime(r.StartedAt)),
			kv("Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()),
			kv("All Succeeded", r.AllSucceeded),
			kv("Units", fmt.Sprintf("%d ok, %d skipped, %d failed", r.Succeeded, r.Skipped, r.Failed)),
		)
		lines += "\n"
	}

	return lines
}

func formatRunDetail(run types.RunDetail) string {
	lines := joinLines(
		section(fmt.Sprintf("Run %s (%s)", run.ID, run.Kind)),
		kv("Started", formatTime(run.StartedAt)),
		kv("Finished", formatTime(run.FinishedAt)),
		kv("All Succeeded", run.AllSucceeded),
		kv("Units", fmt.Sprintf("%d ok, %d skipped, %d failed", run.Succeeded, run.Skipped, run.Failed)),
	)
	if run.AbortReason != "" {
		lines += "\n" + kv("Aborted", run.AbortReason)
	}

	if len(run.ClaimResults) > 0 {
		lines += "\n\n" + section("Claims")
		for _, r := range run.ClaimResults {
			line := fmt.Sprintf("  %s %-8s %-9s attempts=%d", shortHash(r.Account), r.Token.Symbol, r.Outcome, r.Attempts)
			if r.TxHash != "" {
				line += " tx=" + shortHash(r.TxHash)
			}
			if r.Error != "" {
				line += fmt.Sprintf(" [%s] %s", r.ErrorCategory, r.Error)
			}
			lines += "\n" + line
		}
	}

	if len(run.SwapResults) > 0 {
		lines += "\n\n" + section("Swaps")
		for _, r := range run.SwapResults {
			line := fmt.Sprintf("  %s %-8s %-9s attempts=%d", shortHash(r.Account), r.Token.Symbol, r.Outcome, r.Attempts)
			if r.AmountIn != "" {
				line += " in=" + r.AmountIn
			}
			if r.TxHash != "" {
				line += " tx=" + shortHash(r.TxHash)
			}
			if r.Error != "" {
				line += fmt.Sprintf(" [%s] %s", r.ErrorCategory, r.Error)
			}
			lines += "\n" + line
		}
	}

	return lines
}
