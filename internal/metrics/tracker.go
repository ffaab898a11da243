package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// TxObserver receives transaction lifecycle events. It has the same method
// set as submitter.Observer.
type TxObserver interface {
	TxSubmitted(kind types.TxKind)
	TxConfirmed(kind types.TxKind, attempts int, latency time.Duration)
	TxFailed(kind types.TxKind, category string)
}

type multiObserver []TxObserver

// Multi fans events out to every observer in order.
func Multi(observers ...TxObserver) TxObserver {
	return multiObserver(observers)
}

func (m multiObserver) TxSubmitted(kind types.TxKind) {
	for _, o := range m {
		o.TxSubmitted(kind)
	}
}

func (m multiObserver) TxConfirmed(kind types.TxKind, attempts int, latency time.Duration) {
	for _, o := range m {
		o.TxConfirmed(kind, attempts, latency)
	}
}

func (m multiObserver) TxFailed(kind types.TxKind, category string) {
	for _, o := range m {
		o.TxFailed(kind, category)
	}
}

// Tracker keeps the live status served by the API. It implements TxObserver
// and the scheduler's recorder and state hooks.
type Tracker struct {
	mode      types.Mode
	chainID   string
	accounts  int
	tokens    []types.Token
	startedAt time.Time

	submitted atomic.Uint64
	confirmed atomic.Uint64
	failed    atomic.Uint64
	version   atomic.Uint64
	latency   *LatencyStats

	mu          sync.RWMutex
	state       types.BotState
	claimRounds uint64
	swapPasses  uint64
	lastClaim   *types.RunSummary
	lastSwap    *types.RunSummary
	nextSwap    *time.Time
}

// NewTracker creates a Tracker for a bot running mode over accounts and tokens.
func NewTracker(mode types.Mode, chainID string, accounts int, tokens []types.Token) *Tracker {
	return &Tracker{
		mode:      mode,
		chainID:   chainID,
		accounts:  accounts,
		tokens:    append([]types.Token(nil), tokens...),
		startedAt: time.Now(),
		latency:   NewLatencyStats(),
		state:     types.StateIdle,
	}
}

func (t *Tracker) TxSubmitted(types.TxKind) {
	t.submitted.Add(1)
	t.version.Add(1)
}

func (t *Tracker) TxConfirmed(_ types.TxKind, _ int, latency time.Duration) {
	t.confirmed.Add(1)
	t.latency.Observe(latency)
	t.version.Add(1)
}

func (t *Tracker) TxFailed(types.TxKind, string) {
	t.failed.Add(1)
	t.version.Add(1)
}

// SaveClaimRound keeps the round summary as the latest one.
func (t *Tracker) SaveClaimRound(_ context.Context, round *types.ClaimRound) error {
	s := round.Summarize()
	t.mu.Lock()
	t.claimRounds++
	t.lastClaim = &s
	t.mu.Unlock()
	t.version.Add(1)
	return nil
}

// SaveSwapPass keeps the pass summary as the latest one.
func (t *Tracker) SaveSwapPass(_ context.Context, pass *types.SwapPass) error {
	s := pass.Summarize()
	t.mu.Lock()
	t.swapPasses++
	t.lastSwap = &s
	t.mu.Unlock()
	t.version.Add(1)
	return nil
}

func (t *Tracker) SetState(state types.BotState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	t.version.Add(1)
}

// SetNextSwap records the next swap pass; the zero time clears it.
func (t *Tracker) SetNextSwap(at time.Time) {
	t.mu.Lock()
	if at.IsZero() {
		t.nextSwap = nil
	} else {
		t.nextSwap = &at
	}
	t.mu.Unlock()
	t.version.Add(1)
}

// Version changes whenever the status may have changed.
func (t *Tracker) Version() uint64 {
	return t.version.Load()
}

// Status returns a snapshot safe to serialize.
func (t *Tracker) Status() types.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := types.Status{
		Mode:           t.mode,
		State:          t.state,
		ChainID:        t.chainID,
		Accounts:       t.accounts,
		Tokens:         append([]types.Token(nil), t.tokens...),
		StartedAt:      t.startedAt,
		ClaimRounds:    t.claimRounds,
		SwapPasses:     t.swapPasses,
		TxSubmitted:    t.submitted.Load(),
		TxConfirmed:    t.confirmed.Load(),
		TxFailed:       t.failed.Load(),
		ConfirmLatency: t.latency.Snapshot(),
	}
	if t.lastClaim != nil {
		c := *t.lastClaim
		st.LastClaimRound = &c
	}
	if t.lastSwap != nil {
		s := *t.lastSwap
		st.LastSwapPass = &s
	}
	if t.nextSwap != nil {
		n := *t.nextSwap
		st.NextSwapAt = &n
	}
	return st
}
