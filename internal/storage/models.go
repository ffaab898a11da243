package storage

import "github.com/gateway-fm/faucetbot/pkg/types"

// PaginatedRuns is one page of run summaries, newest first.
type PaginatedRuns struct {
	Runs   []types.RunSummary `json:"runs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// resultRow is the flattened form of a claim or swap result as stored in the
// results table. Columns that only apply to one kind stay empty for the other.
type resultRow struct {
	Position      int
	Account       string
	TokenSymbol   string
	TokenAddress  string
	Outcome       string
	Success       bool
	Nonce         int64
	TxHash        string
	ApproveTxHash string
	AmountIn      string
	BalanceBefore string
	BalanceAfter  string
	Attempts      int
	Error         string
	ErrorCategory string
	DurationMs    int64
}

func claimRow(i int, r types.ClaimResult) resultRow {
	return resultRow{
		Position:      i,
		Account:       r.Account,
		TokenSymbol:   r.Token.Symbol,
		TokenAddress:  r.Token.Address.Hex(),
		Outcome:       string(r.Outcome),
		Success:       r.Success,
		Nonce:         int64(r.Nonce),
		TxHash:        r.TxHash,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Attempts:      r.Attempts,
		Error:         r.Error,
		ErrorCategory: r.ErrorCategory,
		DurationMs:    r.DurationMs,
	}
}

func swapRow(i int, r types.SwapResult) resultRow {
	return resultRow{
		Position:      i,
		Account:       r.Account,
		TokenSymbol:   r.Token.Symbol,
		TokenAddress:  r.Token.Address.Hex(),
		Outcome:       string(r.Outcome),
		Success:       r.Success,
		TxHash:        r.TxHash,
		ApproveTxHash: r.ApproveTxHash,
		AmountIn:      r.AmountIn,
		Attempts:      r.Attempts,
		Error:         r.Error,
		ErrorCategory: r.ErrorCategory,
		DurationMs:    r.DurationMs,
	}
}
