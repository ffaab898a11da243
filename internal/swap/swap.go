// Package swap converts claimed token balances to the native asset through a
// V2-style router.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/faucetbot/internal/account"
	"github.com/gateway-fm/faucetbot/internal/chain"
	"github.com/gateway-fm/faucetbot/internal/clock"
	"github.com/gateway-fm/faucetbot/internal/contract"
	"github.com/gateway-fm/faucetbot/internal/gas"
	"github.com/gateway-fm/faucetbot/internal/submitter"
	"github.com/gateway-fm/faucetbot/internal/txbuilder"
	"github.com/gateway-fm/faucetbot/internal/txerr"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// Config holds swap settings.
type Config struct {
	Router              common.Address
	WrappedNativeSymbol string  // symbol treated as the wrapped native token (default: WETH)
	GasMultiplier       float64 // flat gas price multiplier for approve and swap (default: 1.1)

	ApproveGasLimit       uint64        // default: 200000
	ApproveConfirmTimeout time.Duration // default: 120s
	SettleDelay           time.Duration // wait after a fresh approval (default: 15s)

	MaxAttempts   int           // full swap attempts per token (default: 5)
	RetryDelay    time.Duration // pause between swap attempts (default: 5s)
	SubmitRetries int           // submission attempts inside one swap attempt (default: 3)
	MaxPolls      int           // receipt polls per submission (default: 60)
	PollInterval  time.Duration // default: 2s

	MinNativeBalance *big.Int      // native balance required to pay gas (default: 0.01 native)
	DeadlineWindow   time.Duration // swap deadline from now (default: 10m)
	HalvingSteps     int           // wrapped-native amount halvings (default: 5)
}

// DefaultConfig returns default swap settings for router.
func DefaultConfig(router common.Address) Config {
	return Config{
		Router:                router,
		WrappedNativeSymbol:   "WETH",
		GasMultiplier:         gas.DefaultSwapMultiplier,
		ApproveGasLimit:       200_000,
		ApproveConfirmTimeout: 120 * time.Second,
		SettleDelay:           15 * time.Second,
		MaxAttempts:           5,
		RetryDelay:            5 * time.Second,
		SubmitRetries:         3,
		MaxPolls:              60,
		PollInterval:          2 * time.Second,
		MinNativeBalance:      big.NewInt(10_000_000_000_000_000),
		DeadlineWindow:        600 * time.Second,
		HalvingSteps:          5,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig(c.Router)
	if c.WrappedNativeSymbol == "" {
		c.WrappedNativeSymbol = d.WrappedNativeSymbol
	}
	if c.GasMultiplier == 0 {
		c.GasMultiplier = d.GasMultiplier
	}
	if c.ApproveGasLimit == 0 {
		c.ApproveGasLimit = d.ApproveGasLimit
	}
	if c.ApproveConfirmTimeout <= 0 {
		c.ApproveConfirmTimeout = d.ApproveConfirmTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = d.SubmitRetries
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MinNativeBalance == nil {
		c.MinNativeBalance = d.MinNativeBalance
	}
	if c.DeadlineWindow <= 0 {
		c.DeadlineWindow = d.DeadlineWindow
	}
	if c.HalvingSteps <= 0 {
		c.HalvingSteps = d.HalvingSteps
	}
}

// Orchestrator swaps token balances account by account, token by token.
type Orchestrator struct {
	chain  chain.Client
	sub    *submitter.Submitter
	clock  clock.Clock
	cfg    Config
	pricer gas.Flat
	logger *slog.Logger

	mu      sync.Mutex
	weth    common.Address
	checked bool
}

// New creates a swap orchestrator.
func New(client chain.Client, sub *submitter.Submitter, clk clock.Clock, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	cfg.applyDefaults()
	if cfg.Router == (common.Address{}) {
		return nil, errors.New("router address is required")
	}
	pricer, err := gas.NewFlat(cfg.GasMultiplier)
	if err != nil {
		return nil, err
	}
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
		pricer: pricer,
		logger: logger,
	}, nil
}

// CheckRouter verifies the router has code and answers WETH(). Any failure is
// a fatal precondition for the whole swap run. The result is cached.
func (o *Orchestrator) CheckRouter(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.checked {
		return nil
	}

	router := o.cfg.Router
	o.logger.Info("Checking router contract", slog.String("router", router.Hex()))

	code, err := o.chain.Code(ctx, router)
	if err != nil {
		return txerr.FatalPrecondition(fmt.Errorf("read router code: %w", err))
	}
	if len(code) == 0 {
		return txerr.FatalPrecondition(fmt.Errorf("no contract code at router %s", router.Hex()))
	}

	weth, err := o.chain.RouterWETH(ctx, router)
	if err != nil {
		return txerr.FatalPrecondition(fmt.Errorf("router WETH() call failed: %w", err))
	}
	if weth == (common.Address{}) {
		return txerr.FatalPrecondition(fmt.Errorf("router %s returned zero WETH address", router.Hex()))
	}

	o.weth = weth
	o.checked = true
	o.logger.Info("Router contract verified", slog.String("weth", weth.Hex()))
	return nil
}

func (o *Orchestrator) wrappedNative() common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.weth
}

func (o *Orchestrator) isWrappedNative(token ptypes.Token) bool {
	return strings.EqualFold(token.Symbol, o.cfg.WrappedNativeSymbol) || token.Address == o.wrappedNative()
}

// SwapPass runs SwapAccount for every account in order. It returns a non-nil
// error only for a fatal precondition or cancellation; the pass is then
// marked aborted with whatever results were collected.
func (o *Orchestrator) SwapPass(ctx context.Context, accounts []*account.Account, tokens []ptypes.Token) (ptypes.SwapPass, error) {
	pass := ptypes.SwapPass{
		ID:        uuid.NewString(),
		StartedAt: o.clock.Now(),
	}
	logger := o.logger.With(slog.String("pass", pass.ID))

	var runErr error
	for _, acc := range accounts {
		logger.Info("Performing swaps", slog.String("account", acc.String()))
		results, err := o.SwapAccount(ctx, acc, tokens)
		pass.Results = append(pass.Results, results...)
		if err != nil {
			runErr = err
			pass.Aborted = true
			pass.AbortReason = err.Error()
			logger.Error("Swap pass aborted", slog.String("error", err.Error()))
			break
		}
	}

	pass.AllSucceeded = !pass.Aborted
	for _, r := range pass.Results {
		if !r.Success {
			pass.AllSucceeded = false
		}
	}
	pass.FinishedAt = o.clock.Now()

	summary := pass.Summarize()
	logger.Info("Swap pass finished",
		slog.Bool("all_succeeded", pass.AllSucceeded),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", pass.FinishedAt.Sub(pass.StartedAt)),
	)
	return pass, runErr
}

// SwapAccount swaps every token balance of acc, strictly one token at a time.
// Per-token failures are reported in the results; the returned error is
// reserved for a fatal precondition or cancellation.
func (o *Orchestrator) SwapAccount(ctx context.Context, acc *account.Account, tokens []ptypes.Token) ([]ptypes.SwapResult, error) {
	if err := o.CheckRouter(ctx); err != nil {
		return nil, err
	}
	o.sub.Nonces().Reset(acc.Address())

	results := make([]ptypes.SwapResult, 0, len(tokens))
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, o.swapToken(ctx, acc, token))
	}
	return results, ctx.Err()
}

func (o *Orchestrator) swapToken(ctx context.Context, acc *account.Account, token ptypes.Token) ptypes.SwapResult {
	start := o.clock.Now()
	res := ptypes.SwapResult{
		Account: acc.Address().Hex(),
		Token:   token,
		Outcome: ptypes.OutcomeFailed,
	}
	defer func() { res.DurationMs = o.clock.Now().Sub(start).Milliseconds() }()

	logger := o.logger.With(
		slog.String("account", acc.String()),
		slog.String("token", token.Symbol),
	)
	fail := func(err error) ptypes.SwapResult {
		res.Error = err.Error()
		res.ErrorCategory = txerr.Category(err)
		logger.Error("Swap failed", slog.String("reason", res.Error))
		return res
	}

	balance, err := o.chain.TokenBalance(ctx, token.Address, acc.Address())
	if err != nil {
		return fail(err)
	}
	logger.Info("Token balance", slog.String("balance", balance.String()))
	if balance.Sign() == 0 {
		logger.Info("No balance to swap")
		res.Outcome = ptypes.OutcomeSkipped
		res.Success = true
		return res
	}
	res.AmountIn = balance.String()

	approveHash, err := o.ensureAllowance(ctx, acc, token, balance, logger)
	if approveHash != "" {
		res.ApproveTxHash = approveHash
	}
	if err != nil {
		return fail(err)
	}

	var lastErr error
	for i := 0; i < o.cfg.MaxAttempts; i++ {
		res.Attempts = i + 1
		hash, amount, err := o.swapOnce(ctx, acc, token, balance, logger)
		if err == nil {
			res.Success = true
			res.Outcome = ptypes.OutcomeSucceeded
			res.TxHash = hash.Hex()
			res.AmountIn = amount.String()
			return res
		}
		lastErr = err

		if errors.Is(err, txerr.ErrInsufficientFunds) || ctx.Err() != nil {
			return fail(err)
		}

		logger.Warn("Swap attempt failed",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", o.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)
		if i < o.cfg.MaxAttempts-1 {
			if err := o.clock.Sleep(ctx, o.cfg.RetryDelay); err != nil {
				return fail(err)
			}
		}
	}
	return fail(fmt.Errorf("all %d swap attempts failed: %w", o.cfg.MaxAttempts, lastErr))
}

// ensureAllowance approves the router for MaxUint256 when the current
// allowance covers neither the balance nor half of MaxUint256.
func (o *Orchestrator) ensureAllowance(ctx context.Context, acc *account.Account, token ptypes.Token, balance *big.Int, logger *slog.Logger) (string, error) {
	allowance, err := o.chain.Allowance(ctx, token.Address, acc.Address(), o.cfg.Router)
	if err != nil {
		return "", err
	}
	logger.Info("Current allowance", slog.String("allowance", allowance.String()))
	if allowance.Cmp(balance) >= 0 || allowance.Cmp(contract.HalfMaxUint256) >= 0 {
		return "", nil
	}

	builder, err := txbuilder.NewApproveBuilder(token.Address, o.cfg.Router, contract.MaxUint256, o.cfg.ApproveGasLimit)
	if err != nil {
		return "", err
	}
	sr := o.sub.Submit(ctx, submitter.Request{
		Account:        acc,
		Builder:        builder,
		Pricer:         o.pricer,
		Label:          token.Symbol,
		MaxRetries:     o.cfg.SubmitRetries,
		ConfirmTimeout: o.cfg.ApproveConfirmTimeout,
		PollInterval:   o.cfg.PollInterval,
	})
	if !sr.Success {
		return "", fmt.Errorf("approval failed: %w", sr.Err)
	}

	logger.Info("Infinite approval confirmed, waiting to settle",
		slog.String("tx", sr.TxHash.Hex()),
		slog.Duration("delay", o.cfg.SettleDelay),
	)
	if err := o.clock.Sleep(ctx, o.cfg.SettleDelay); err != nil {
		return sr.TxHash.Hex(), err
	}
	return sr.TxHash.Hex(), nil
}

// swapOnce runs one full estimate-build-submit-confirm cycle under a deadline
// measured from its own start.
func (o *Orchestrator) swapOnce(ctx context.Context, acc *account.Account, token ptypes.Token, balance *big.Int, logger *slog.Logger) (common.Hash, *big.Int, error) {
	deadline := big.NewInt(o.clock.Now().Add(o.cfg.DeadlineWindow).Unix())
	native, err := o.chain.NativeBalance(ctx, acc.Address())
	if err != nil {
		return common.Hash{}, nil, err
	}
	if native.Cmp(o.cfg.MinNativeBalance) < 0 {
		return common.Hash{}, nil, txerr.InsufficientFunds(fmt.Errorf("native balance %s below %s needed for gas", native, o.cfg.MinNativeBalance))
	}
	logger.Info("Balances before swap",
		slog.String("token_balance", balance.String()),
		slog.String("native_balance", native.String()),
	)

	args, gasEstimate, err := o.estimate(ctx, acc, token, balance, deadline, logger)
	if err != nil {
		return common.Hash{}, nil, err
	}
	gasLimit := gasEstimate * 3 / 2

	builder, err := txbuilder.NewSwapBuilder(o.cfg.Router, args, gasLimit)
	if err != nil {
		return common.Hash{}, nil, err
	}
	logger.Info("Submitting swap",
		slog.String("amount_in", args.AmountIn.String()),
		slog.String("amount_out_min", args.AmountOutMin.String()),
		slog.Uint64("gas_estimate", gasEstimate),
		slog.Uint64("gas_limit", gasLimit),
	)

	sr := o.sub.Submit(ctx, submitter.Request{
		Account:      acc,
		Builder:      builder,
		Pricer:       o.pricer,
		Label:        token.Symbol,
		MaxRetries:   o.cfg.SubmitRetries,
		MaxPolls:     o.cfg.MaxPolls,
		PollInterval: o.cfg.PollInterval,
	})
	if !sr.Success {
		return common.Hash{}, nil, fmt.Errorf("swap not confirmed: %w", sr.Err)
	}

	after, errTok := o.chain.TokenBalance(ctx, token.Address, acc.Address())
	nativeAfter, errNative := o.chain.NativeBalance(ctx, acc.Address())
	if errTok == nil && errNative == nil {
		logger.Info("Swap succeeded",
			slog.String("tx", sr.TxHash.Hex()),
			slog.String("token_balance", after.String()),
			slog.String("native_balance", nativeAfter.String()),
		)
	} else {
		logger.Info("Swap succeeded", slog.String("tx", sr.TxHash.Hex()))
	}
	return sr.TxHash, args.AmountIn, nil
}

// estimate picks the swap amount and slippage floor and returns the gas
// estimate for that exact call. The wrapped-native token is tried at the full
// balance and then successively halved amounts while estimation reverts, with
// a 99% slippage floor. Other tokens use the full balance and a 95% floor.
func (o *Orchestrator) estimate(ctx context.Context, acc *account.Account, token ptypes.Token, balance, deadline *big.Int, logger *slog.Logger) (txbuilder.SwapArgs, uint64, error) {
	args := txbuilder.SwapArgs{
		Path:     []common.Address{token.Address, o.wrappedNative()},
		To:       acc.Address(),
		Deadline: deadline,
	}

	call := func() (uint64, error) {
		data, err := contract.PackSwapExactTokensForETH(args)
		if err != nil {
			return 0, err
		}
		return o.chain.EstimateGas(ctx, chain.CallMsg{From: acc.Address(), To: o.cfg.Router, Data: data})
	}

	if !o.isWrappedNative(token) {
		args.AmountIn = new(big.Int).Set(balance)
		args.AmountOutMin = percentOf(balance, 95)
		g, err := call()
		return args, g, err
	}

	var lastErr error
	for i := 0; i < o.cfg.HalvingSteps; i++ {
		args.AmountIn = new(big.Int).Rsh(balance, uint(i))
		args.AmountOutMin = percentOf(args.AmountIn, 1)
		logger.Info("Estimating wrapped-native swap",
			slog.Int("step", i+1),
			slog.String("amount", args.AmountIn.String()),
			slog.String("amount_out_min", args.AmountOutMin.String()),
		)
		g, err := call()
		if err == nil {
			return args, g, nil
		}
		lastErr = err
		if !errors.Is(err, txerr.ErrContractLogic) {
			return args, 0, err
		}
		logger.Warn("Estimate reverted, trying a smaller amount", slog.String("error", err.Error()))
	}
	return args, 0, lastErr
}

func percentOf(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}
