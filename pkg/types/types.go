// Package types contains public API types for the faucet bot.
// These types form the external interface (HTTP API, history, MCP) and must remain backwards-compatible.
package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Mode selects which loops the bot runs.
type Mode string

const (
	ModeClaim Mode = "claim"
	ModeSwap  Mode = "swap"
	ModeAll   Mode = "all"
)

// TxKind identifies what a submitted transaction does.
type TxKind string

const (
	TxKindClaim   TxKind = "claim"
	TxKindApprove TxKind = "approve"
	TxKindSwap    TxKind = "swap"
)

// Outcome is the final state of one (account, token) unit of work.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeDegraded means the transaction confirmed but the expected balance change was not observed.
	OutcomeDegraded Outcome = "degraded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// RunKind distinguishes persisted runs.
type RunKind string

const (
	RunClaimRound RunKind = "claim_round"
	RunSwapPass   RunKind = "swap_pass"
)

// BotState is the scheduler state exposed on the status API.
type BotState string

const (
	StateIdle     BotState = "idle"
	StateClaiming BotState = "claiming"
	StateSwapping BotState = "swapping"
	StateSleeping BotState = "sleeping"
	StateStopped  BotState = "stopped"
)

// Token is a faucet token the bot claims and later swaps to native.
type Token struct {
	Symbol  string         `json:"symbol"`
	Address common.Address `json:"address"`
}

// ClaimResult is the outcome of one claim for one (account, token) pair.
type ClaimResult struct {
	Account       string  `json:"account"`
	Token         Token   `json:"token"`
	Outcome       Outcome `json:"outcome"`
	Success       bool    `json:"success"`
	Nonce         uint64  `json:"nonce"`
	TxHash        string  `json:"txHash,omitempty"`
	Attempts      int     `json:"attempts"`
	BalanceBefore string  `json:"balanceBefore,omitempty"`
	BalanceAfter  string  `json:"balanceAfter,omitempty"`
	Error         string  `json:"error,omitempty"`
	ErrorCategory string  `json:"errorCategory,omitempty"`
	DurationMs    int64   `json:"durationMs"`
}

// ClaimRound is one pass of claims over every (account, token) pair.
type ClaimRound struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	AllSucceeded bool          `json:"allSucceeded"`
	Results      []ClaimResult `json:"results"`
}

// SwapResult is the outcome of swapping one token balance of one account.
type SwapResult struct {
	Account       string  `json:"account"`
	Token         Token   `json:"token"`
	Outcome       Outcome `json:"outcome"`
	Success       bool    `json:"success"`
	AmountIn      string  `json:"amountIn,omitempty"`
	ApproveTxHash string  `json:"approveTxHash,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	Attempts      int     `json:"attempts"`
	Error         string  `json:"error,omitempty"`
	ErrorCategory string  `json:"errorCategory,omitempty"`
	DurationMs    int64   `json:"durationMs"`
}

// SwapPass is one pass of swaps over every account.
type SwapPass struct {
	ID           string       `json:"id"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
	AllSucceeded bool         `json:"allSucceeded"`
	Aborted      bool         `json:"aborted,omitempty"`
	AbortReason  string       `json:"abortReason,omitempty"`
	Results      []SwapResult `json:"results"`
}

// RunSummary is the condensed, listable form of a claim round or swap pass.
type RunSummary struct {
	ID           string    `json:"id"`
	Kind         RunKind   `json:"kind"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	AllSucceeded bool      `json:"allSucceeded"`
	Units        int       `json:"units"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
}

// RunDetail is a persisted run with its per-unit results.
type RunDetail struct {
	RunSummary
	AbortReason  string        `json:"abortReason,omitempty"`
	ClaimResults []ClaimResult `json:"claimResults,omitempty"`
	SwapResults  []SwapResult  `json:"swapResults,omitempty"`
}

// Status is the live snapshot served by the status API and websocket stream.
type Status struct {
	Mode           Mode          `json:"mode"`
	State          BotState      `json:"state"`
	ChainID        string        `json:"chainId"`
	Accounts       int           `json:"accounts"`
	Tokens         []Token       `json:"tokens"`
	StartedAt      time.Time     `json:"startedAt"`
	ClaimRounds    uint64        `json:"claimRounds"`
	SwapPasses     uint64        `json:"swapPasses"`
	TxSubmitted    uint64        `json:"txSubmitted"`
	TxConfirmed    uint64        `json:"txConfirmed"`
	TxFailed       uint64        `json:"txFailed"`
	LastClaimRound *RunSummary   `json:"lastClaimRound,omitempty"`
	LastSwapPass   *RunSummary   `json:"lastSwapPass,omitempty"`
	NextSwapAt     *time.Time    `json:"nextSwapAt,omitempty"`
	ConfirmLatency *LatencyStats `json:"confirmLatency,omitempty"`
}

// LatencyStats summarizes transaction confirmation latency, in milliseconds,
// from first broadcast to receipt.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets"`
}

// LatencyBucket is one histogram bucket of LatencyStats.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summarize condenses a claim round.
func (r *ClaimRound) Summarize() RunSummary {
	s := RunSummary{
		ID:           r.ID,
		Kind:         RunClaimRound,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		AllSucceeded: r.AllSucceeded,
		Units:        len(r.Results),
	}
	for _, res := range r.Results {
		s.count(res.Outcome)
	}
	return s
}

// Summarize condenses a swap pass.
func (p *SwapPass) Summarize() RunSummary {
	s := RunSummary{
		ID:           p.ID,
		Kind:         RunSwapPass,
		StartedAt:    p.StartedAt,
		FinishedAt:   p.FinishedAt,
		AllSucceeded: p.AllSucceeded,
		Units:        len(p.Results),
	}
	for _, res := range p.Results {
		s.count(res.Outcome)
	}
	return s
}

func (s *RunSummary) count(o Outcome) {
	switch o {
	case OutcomeSucceeded, OutcomeDegraded:
		s.Succeeded++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}
