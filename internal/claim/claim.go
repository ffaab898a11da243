// Package claim runs faucet claim rounds across accounts and tokens.
package claim

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/faucetbot/internal/account"
	"github.com/gateway-fm/faucetbot/internal/chain"
	"github.com/gateway-fm/faucetbot/internal/clock"
	"github.com/gateway-fm/faucetbot/internal/gas"
	"github.com/gateway-fm/faucetbot/internal/submitter"
	"github.com/gateway-fm/faucetbot/internal/txbuilder"
	"github.com/gateway-fm/faucetbot/internal/txerr"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// Config holds claim round settings.
type Config struct {
	Workers        int           // concurrent in-flight claims across the whole round (default: 10)
	GasLimit       uint64        // gas limit for claim() (default: 200000)
	MaxRetries     int           // submission attempts per claim (default: 3)
	ConfirmTimeout time.Duration // receipt wait per attempt (default: 60s)

	// CooldownSkip skips pairs whose lastClaimTime is within Cooldown
	// instead of sending a claim the faucet will reject.
	CooldownSkip bool
	Cooldown     time.Duration // default: 24h
}

// DefaultConfig returns the default claim settings.
func DefaultConfig() Config {
	return Config{
		Workers:        10,
		GasLimit:       200_000,
		MaxRetries:     3,
		ConfirmTimeout: 60 * time.Second,
		Cooldown:       24 * time.Hour,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.GasLimit == 0 {
		c.GasLimit = d.GasLimit
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
}

// Orchestrator runs claim rounds.
type Orchestrator struct {
	chain  chain.Client
	sub    *submitter.Submitter
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
}

// New creates a claim orchestrator.
func New(client chain.Client, sub *submitter.Submitter, clk clock.Clock, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Orchestrator{
		chain:  client,
		sub:    sub,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

// unit is one (account, token) claim with its pre-allocated nonce.
type unit struct {
	index   int
	account *account.Account
	token   ptypes.Token
	nonce   uint64
}

// ClaimAllRound claims every token for every account. Nonces are allocated
// up front, per account in token order, then the claims run concurrently on
// a bounded pool. The round never stops early; AllSucceeded is the AND of
// every unit outcome, with skipped and degraded units counting as success.
func (o *Orchestrator) ClaimAllRound(ctx context.Context, accounts []*account.Account, tokens []ptypes.Token) ptypes.ClaimRound {
	round := ptypes.ClaimRound{
		ID:        uuid.NewString(),
		StartedAt: o.clock.Now(),
		Results:   make([]ptypes.ClaimResult, len(accounts)*len(tokens)),
	}
	logger := o.logger.With(slog.String("round", round.ID))

	nonces := o.sub.Nonces()
	units := make([]unit, 0, len(round.Results))
	for ai, acc := range accounts {
		nonces.Reset(acc.Address())
		for ti, token := range tokens {
			idx := ai*len(tokens) + ti
			round.Results[idx] = ptypes.ClaimResult{
				Account: acc.Address().Hex(),
				Token:   token,
			}

			if o.cfg.CooldownSkip && o.inCooldown(ctx, acc, token, logger) {
				round.Results[idx].Outcome = ptypes.OutcomeSkipped
				round.Results[idx].Success = true
				continue
			}

			nonce, err := nonces.Allocate(ctx, acc.Address())
			if err != nil {
				err = chain.Classify(err)
				logger.Error("Nonce allocation failed",
					slog.String("account", acc.String()),
					slog.String("token", token.Symbol),
					slog.String("error", err.Error()),
				)
				round.Results[idx].Outcome = ptypes.OutcomeFailed
				round.Results[idx].Error = err.Error()
				round.Results[idx].ErrorCategory = txerr.Category(err)
				continue
			}
			units = append(units, unit{index: idx, account: acc, token: token, nonce: nonce})
		}
	}

	logger.Info("Claim round started",
		slog.Int("accounts", len(accounts)),
		slog.Int("tokens", len(tokens)),
		slog.Int("claims", len(units)),
		slog.Int("workers", o.cfg.Workers),
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, u := range units {
		g.Go(func() error {
			round.Results[u.index] = o.claimOne(ctx, u, logger)
			return nil
		})
	}
	_ = g.Wait()

	round.AllSucceeded = true
	for _, r := range round.Results {
		if !r.Success {
			round.AllSucceeded = false
			break
		}
	}
	round.FinishedAt = o.clock.Now()

	summary := round.Summarize()
	logger.Info("Claim round finished",
		slog.Bool("all_succeeded", round.AllSucceeded),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", round.FinishedAt.Sub(round.StartedAt)),
	)
	return round
}

func (o *Orchestrator) inCooldown(ctx context.Context, acc *account.Account, token ptypes.Token, logger *slog.Logger) bool {
	last, err := o.chain.LastClaimTime(ctx, token.Address, acc.Address())
	if err != nil {
		logger.Debug("lastClaimTime unavailable, claiming anyway",
			slog.String("account", acc.String()),
			slog.String("token", token.Symbol),
			slog.String("error", err.Error()),
		)
		return false
	}
	if last.IsZero() {
		return false
	}
	next := last.Add(o.cfg.Cooldown)
	if o.clock.Now().Before(next) {
		logger.Info("Claim skipped, faucet cooldown active",
			slog.String("account", acc.String()),
			slog.String("token", token.Symbol),
			slog.Time("next_claim", next),
		)
		return true
	}
	return false
}

func (o *Orchestrator) claimOne(ctx context.Context, u unit, logger *slog.Logger) ptypes.ClaimResult {
	start := o.clock.Now()
	res := ptypes.ClaimResult{
		Account: u.account.Address().Hex(),
		Token:   u.token,
		Nonce:   u.nonce,
		Outcome: ptypes.OutcomeFailed,
	}
	logger = logger.With(
		slog.String("account", u.account.String()),
		slog.String("token", u.token.Symbol),
	)
	defer func() { res.DurationMs = o.clock.Now().Sub(start).Milliseconds() }()

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		res.ErrorCategory = txerr.Category(err)
		return res
	}

	before, err := o.chain.TokenBalance(ctx, u.token.Address, u.account.Address())
	if err != nil {
		logger.Warn("Balance before claim unavailable", slog.String("error", err.Error()))
		before = nil
	} else {
		res.BalanceBefore = before.String()
		logger.Info("Claiming", slog.Uint64("nonce", u.nonce), slog.String("balance_before", before.String()))
	}

	builder, err := txbuilder.NewClaimBuilder(u.token.Address, o.cfg.GasLimit)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	nonce := u.nonce
	sr := o.sub.Submit(ctx, submitter.Request{
		Account:        u.account,
		Builder:        builder,
		Pricer:         gas.ClaimPolicy(),
		Label:          u.token.Symbol,
		MaxRetries:     o.cfg.MaxRetries,
		ConfirmTimeout: o.cfg.ConfirmTimeout,
		FirstNonce:     &nonce,
	})
	res.Attempts = sr.Attempts
	res.Nonce = sr.Nonce
	if sr.TxHash != (common.Hash{}) {
		res.TxHash = sr.TxHash.Hex()
	}

	if !sr.Success {
		res.Error = errText(sr.Err)
		res.ErrorCategory = txerr.Category(sr.Err)
		logger.Error("Claim failed",
			slog.Int("attempts", sr.Attempts),
			slog.String("state", string(sr.State)),
			slog.String("reason", res.Error),
		)
		return res
	}

	res.Success = true
	res.Outcome = ptypes.OutcomeSucceeded

	after, err := o.chain.TokenBalance(ctx, u.token.Address, u.account.Address())
	if err != nil {
		logger.Warn("Balance after claim unavailable", slog.String("error", err.Error()))
		res.Outcome = ptypes.OutcomeDegraded
		return res
	}
	res.BalanceAfter = after.String()

	if before == nil || after.Cmp(before) <= 0 {
		res.Outcome = ptypes.OutcomeDegraded
		logger.Warn("Claim confirmed but balance did not increase",
			slog.String("tx", res.TxHash),
			slog.String("balance", after.String()),
		)
		return res
	}

	logger.Info("Claim succeeded",
		slog.String("tx", res.TxHash),
		slog.String("received", new(big.Int).Sub(after, before).String()),
	)
	return res
}

func errText(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}
