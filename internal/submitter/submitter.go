// Package submitter drives a transaction from build to confirmation with
// per-attempt repricing, fresh nonces and linear backoff.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/faucetbot/internal/account"
	"github.com/gateway-fm/faucetbot/internal/chain"
	"github.com/gateway-fm/faucetbot/internal/clock"
	"github.com/gateway-fm/faucetbot/internal/gas"
	"github.com/gateway-fm/faucetbot/internal/txbuilder"
	"github.com/gateway-fm/faucetbot/internal/txerr"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// State is a step of the submission state machine.
type State string

const (
	StateBuilding        State = "building"
	StateSubmitting      State = "submitting"
	StatePolling         State = "polling"
	StateSucceeded       State = "succeeded"
	StateFailedLogic     State = "failed_logic"
	StateFailedExhausted State = "failed_exhausted"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedLogic || s == StateFailedExhausted
}

const (
	DefaultMaxRetries     = 3
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
	backoffUnit           = 2 * time.Second
)

// Request describes one logical transaction.
type Request struct {
	Account *account.Account
	Builder txbuilder.Builder
	Pricer  gas.Pricer
	// Label names the unit in logs, usually the token symbol.
	Label string

	// MaxRetries is the total number of attempts.
	MaxRetries int
	// ConfirmTimeout caps receipt polling per attempt. Ignored when MaxPolls is set.
	ConfirmTimeout time.Duration
	// MaxPolls caps receipt polling per attempt by iteration count.
	MaxPolls     int
	PollInterval time.Duration

	// FirstNonce is a pre-allocated nonce. It is used instead of allocating
	// until an attempt gets as far as broadcasting; later attempts allocate.
	FirstNonce *uint64
}

func (r *Request) applyDefaults() {
	if r.MaxRetries <= 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.PollInterval <= 0 {
		r.PollInterval = DefaultPollInterval
	}
	if r.MaxPolls <= 0 && r.ConfirmTimeout <= 0 {
		r.ConfirmTimeout = DefaultConfirmTimeout
	}
	if r.Pricer == nil {
		r.Pricer = gas.Flat{Permille: 1000}
	}
}

// Result is the terminal outcome of Submit. Errors are carried, never returned.
type Result struct {
	Success  bool
	State    State
	TxHash   common.Hash
	Receipt  *chain.Receipt
	Nonce    uint64
	Attempts int
	Err      error
}

// Observer receives submission events. Used for metrics.
type Observer interface {
	TxSubmitted(kind ptypes.TxKind)
	TxConfirmed(kind ptypes.TxKind, attempts int, latency time.Duration)
	TxFailed(kind ptypes.TxKind, category string)
}

type nopObserver struct{}

func (nopObserver) TxSubmitted(ptypes.TxKind)                     {}
func (nopObserver) TxConfirmed(ptypes.TxKind, int, time.Duration) {}
func (nopObserver) TxFailed(ptypes.TxKind, string)                {}

// Config for creating a Submitter.
type Config struct {
	Chain         chain.Client
	Nonces        *account.NonceAllocator
	Clock         clock.Clock
	ExplorerTxURL string
	Observer      Observer
	Logger        *slog.Logger
}

// Submitter sends transactions and waits for their receipts. It is safe for
// concurrent use; all mutable state lives in the NonceAllocator.
type Submitter struct {
	chain       chain.Client
	nonces      *account.NonceAllocator
	clock       clock.Clock
	explorerURL string
	observer    Observer
	logger      *slog.Logger
}

// New creates a Submitter.
func New(cfg Config) *Submitter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = account.NewNonceAllocator(cfg.Chain)
	}

	return &Submitter{
		chain:       cfg.Chain,
		nonces:      nonces,
		clock:       clk,
		explorerURL: cfg.ExplorerTxURL,
		observer:    obs,
		logger:      logger,
	}
}

// Nonces returns the allocator used for retries.
func (s *Submitter) Nonces() *account.NonceAllocator {
	return s.nonces
}

// attempt is the transient record of one build-sign-submit-poll cycle.
type attempt struct {
	number    int
	reserved  *uint64
	nonce     uint64
	gasPrice  string
	hash      common.Hash
	broadcast bool
}

// Submit runs the state machine until a terminal state:
//
//	Building -> Submitting -> Polling -> Succeeded
//	                 |            |----> FailedLogic (revert)
//	                 |            '----> (timeout) backoff -> Building
//	                 '--(transient)----> backoff -> Building
//
// Reverts and insufficient funds end in FailedLogic after one attempt.
// Running out of attempts ends in FailedExhausted with the last error.
func (s *Submitter) Submit(ctx context.Context, req Request) Result {
	req.applyDefaults()
	kind := req.Builder.Kind()
	logger := s.logger.With(
		slog.String("account", req.Account.String()),
		slog.String("kind", string(kind)),
		slog.String("label", req.Label),
	)

	res := Result{State: StateBuilding}
	start := s.clock.Now()
	reserved := req.FirstNonce

	for i := 0; i < req.MaxRetries; i++ {
		res.Attempts = i + 1
		a := attempt{number: i, reserved: reserved}

		state, receipt, err := s.runAttempt(ctx, req, &a, logger)
		if a.broadcast {
			reserved = nil
		}
		res.Nonce = a.nonce
		res.TxHash = a.hash
		res.State = state

		switch state {
		case StateSucceeded:
			res.Success = true
			res.Receipt = receipt
			res.Err = nil
			s.observer.TxConfirmed(kind, res.Attempts, s.clock.Now().Sub(start))
			logger.Info("Transaction confirmed",
				slog.String("tx", a.hash.Hex()),
				slog.Uint64("nonce", a.nonce),
				slog.Uint64("block", receipt.BlockNumber),
				slog.Int("attempts", res.Attempts),
			)
			return res

		case StateFailedLogic:
			res.Receipt = receipt
			res.Err = err
			s.observer.TxFailed(kind, txerr.Category(err))
			logger.Warn("Transaction failed permanently",
				slog.String("tx", hashOrEmpty(a.hash)),
				slog.Uint64("nonce", a.nonce),
				slog.String("reason", err.Error()),
			)
			return res
		}

		res.Err = err
		if ctx.Err() != nil {
			return s.exhausted(res, kind, ctx.Err(), logger)
		}

		logger.Warn("Transaction attempt failed",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", req.MaxRetries),
			slog.String("category", txerr.Category(err)),
			slog.String("error", err.Error()),
		)

		if i < req.MaxRetries-1 {
			backoff := backoffUnit * time.Duration(i+1)
			if err := s.clock.Sleep(ctx, backoff); err != nil {
				return s.exhausted(res, kind, err, logger)
			}
		}
	}

	return s.exhausted(res, kind, res.Err, logger)
}

func (s *Submitter) exhausted(res Result, kind ptypes.TxKind, err error, logger *slog.Logger) Result {
	res.State = StateFailedExhausted
	res.Success = false
	res.Err = err
	s.observer.TxFailed(kind, txerr.Category(err))
	logger.Warn("Transaction retries exhausted",
		slog.Int("attempts", res.Attempts),
		slog.String("error", errString(err)),
	)
	return res
}

// runAttempt performs one Building -> Submitting -> Polling cycle and returns
// the state it stopped in. A non-terminal state means the attempt may be retried.
func (s *Submitter) runAttempt(ctx context.Context, req Request, a *attempt, logger *slog.Logger) (State, *chain.Receipt, error) {
	// Building
	base, err := s.chain.GasPrice(ctx)
	if err != nil {
		return StateBuilding, nil, chain.Classify(err)
	}
	gasPrice := req.Pricer.Price(base, a.number)
	a.gasPrice = gasPrice.String()

	if a.reserved != nil {
		a.nonce = *a.reserved
	} else {
		nonce, err := s.nonces.Allocate(ctx, req.Account.Address())
		if err != nil {
			return StateBuilding, nil, chain.Classify(err)
		}
		a.nonce = nonce
	}

	tx, err := req.Builder.Build(txbuilder.TxParams{Nonce: a.nonce, GasPrice: gasPrice})
	if err != nil {
		return StateFailedLogic, nil, txerr.ContractLogic(fmt.Errorf("build %s transaction: %w", req.Builder.Kind(), err))
	}
	signed, err := req.Account.Sign(tx)
	if err != nil {
		return StateFailedLogic, nil, txerr.ContractLogic(err)
	}

	// Submitting. From here on the nonce counts as spent.
	a.broadcast = true
	hash, err := s.chain.SendTransaction(ctx, signed)
	switch {
	case err == nil:
	case chain.IsAlreadyKnown(err):
		// The node holds this exact transaction; follow it instead of
		// sending a copy under a new nonce.
		hash = signed.Hash()
		logger.Info("Transaction already known to node, polling it",
			slog.String("tx", hash.Hex()),
			slog.Uint64("nonce", a.nonce),
		)
	case chain.SendOutcomeUnknown(err):
		hash = signed.Hash()
		logger.Warn("Send timed out without an answer, polling the signed transaction",
			slog.String("tx", hash.Hex()),
			slog.Uint64("nonce", a.nonce),
			slog.String("error", err.Error()),
		)
	default:
		err = chain.Classify(err)
		if errors.Is(err, txerr.ErrContractLogic) || errors.Is(err, txerr.ErrInsufficientFunds) {
			return StateFailedLogic, nil, err
		}
		return StateSubmitting, nil, err
	}
	a.hash = hash
	s.observer.TxSubmitted(req.Builder.Kind())

	logger.Info("Transaction sent",
		slog.String("tx", hash.Hex()),
		slog.Uint64("nonce", a.nonce),
		slog.String("gas_price", a.gasPrice),
		slog.Int("attempt", a.number+1),
		slog.String("explorer", s.explorerURL+hash.Hex()),
	)

	// Polling
	return s.awaitReceipt(ctx, req, hash, logger)
}

// awaitReceipt polls until a receipt appears or the per-attempt budget runs
// out. Receipt lookup errors count as "not yet".
func (s *Submitter) awaitReceipt(ctx context.Context, req Request, hash common.Hash, logger *slog.Logger) (State, *chain.Receipt, error) {
	deadline := s.clock.Now().Add(req.ConfirmTimeout)

	for polls := 1; ; polls++ {
		receipt, err := s.chain.Receipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return StatePolling, nil, ctx.Err()
			}
			logger.Debug("Receipt lookup failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		} else if receipt != nil {
			if receipt.Succeeded() {
				return StateSucceeded, receipt, nil
			}
			return StateFailedLogic, receipt, txerr.ContractLogic(fmt.Errorf("transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber))
		}

		if req.MaxPolls > 0 {
			if polls >= req.MaxPolls {
				break
			}
		} else if !s.clock.Now().Before(deadline) {
			break
		}

		if err := s.clock.Sleep(ctx, req.PollInterval); err != nil {
			return StatePolling, nil, err
		}
	}

	return StatePolling, nil, fmt.Errorf("%w: %s not mined", txerr.ErrConfirmationTimeout, hash.Hex())
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
