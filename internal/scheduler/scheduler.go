// Package scheduler drives claim rounds and swap passes until interrupted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gateway-fm/faucetbot/internal/account"
	"github.com/gateway-fm/faucetbot/internal/clock"
	"github.com/gateway-fm/faucetbot/internal/txerr"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// DefaultSwapInterval is the pause between swap passes.
const DefaultSwapInterval = 24 * time.Hour

// Claimer runs claim rounds.
type Claimer interface {
	ClaimAllRound(ctx context.Context, accounts []*account.Account, tokens []ptypes.Token) ptypes.ClaimRound
}

// Swapper runs swap passes.
type Swapper interface {
	CheckRouter(ctx context.Context) error
	SwapPass(ctx context.Context, accounts []*account.Account, tokens []ptypes.Token) (ptypes.SwapPass, error)
}

// Recorder receives every finished round and pass, e.g. history storage.
type Recorder interface {
	SaveClaimRound(ctx context.Context, round *ptypes.ClaimRound) error
	SaveSwapPass(ctx context.Context, pass *ptypes.SwapPass) error
}

// StateObserver is told what the scheduler is doing.
type StateObserver interface {
	SetState(state ptypes.BotState)
	SetNextSwap(at time.Time)
}

// Config for creating a Scheduler.
type Config struct {
	Accounts []*account.Account
	Tokens   []ptypes.Token

	// SwapInterval is the sleep after each swap pass. Ignored when SwapSchedule is set.
	SwapInterval time.Duration
	// SwapSchedule is an optional standard 5-field cron expression for swap passes.
	SwapSchedule string

	Recorders []Recorder
	Observers []StateObserver
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Scheduler owns the top-level loops. Only one Run method should be active at a time.
type Scheduler struct {
	claimer   Claimer
	swapper   Swapper
	accounts  []*account.Account
	tokens    []ptypes.Token
	interval  time.Duration
	schedule  cron.Schedule
	recorders []Recorder
	observers []StateObserver
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a Scheduler. claimer or swapper may be nil when the matching
// mode is never run.
func New(cfg Config, claimer Claimer, swapper Swapper) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	interval := cfg.SwapInterval
	if interval <= 0 {
		interval = DefaultSwapInterval
	}

	var schedule cron.Schedule
	if cfg.SwapSchedule != "" {
		var err error
		schedule, err = cron.ParseStandard(cfg.SwapSchedule)
		if err != nil {
			return nil, fmt.Errorf("invalid swap schedule %q: %w", cfg.SwapSchedule, err)
		}
	}

	return &Scheduler{
		claimer:   claimer,
		swapper:   swapper,
		accounts:  cfg.Accounts,
		tokens:    cfg.Tokens,
		interval:  interval,
		schedule:  schedule,
		recorders: cfg.Recorders,
		observers: cfg.Observers,
		clock:     clk,
		logger:    logger,
	}, nil
}

// RunClaims runs claim rounds back to back until ctx is cancelled. There is
// no delay between rounds; the faucet's on-chain cooldown is the only brake.
func (s *Scheduler) RunClaims(ctx context.Context) error {
	if s.claimer == nil {
		return errors.New("claim mode is not configured")
	}
	s.logger.Info("Starting claim loop",
		slog.Int("accounts", len(s.accounts)),
		slog.Int("tokens", len(s.tokens)),
	)
	defer s.stopped("Claim loop stopped")

	for round := 1; ctx.Err() == nil; round++ {
		s.logger.Info("Starting claim round", slog.Int("round", round))
		s.claimRound(ctx)
	}
	return nil
}

// RunSwaps runs a swap pass, sleeps until the next one is due, and repeats
// until ctx is cancelled. A fatal precondition ends the loop with an error.
func (s *Scheduler) RunSwaps(ctx context.Context) error {
	if s.swapper == nil {
		return errors.New("swap mode is not configured")
	}
	s.logger.Info("Starting swap loop",
		slog.Int("accounts", len(s.accounts)),
		slog.Int("tokens", len(s.tokens)),
	)
	defer s.stopped("Swap loop stopped")

	if err := s.checkRouter(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if err := s.swapPass(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}

		now := s.clock.Now()
		next := s.nextSwap(now)
		s.sleeping(next)
		if err := s.clock.Sleep(ctx, next.Sub(now)); err != nil {
			break
		}
	}
	return nil
}

// RunAll interleaves both loops on one goroutine: claim rounds run back to
// back, and a swap pass runs between two rounds whenever one is due. The first
// pass is due immediately. A fatal precondition turns swapping off for the
// rest of the run; claims keep going since they never touch the router.
func (s *Scheduler) RunAll(ctx context.Context) error {
	if s.claimer == nil || s.swapper == nil {
		return errors.New("combined mode needs both claims and swaps configured")
	}
	s.logger.Info("Starting combined claim and swap loop",
		slog.Int("accounts", len(s.accounts)),
		slog.Int("tokens", len(s.tokens)),
	)
	defer s.stopped("Combined loop stopped")

	swaps := s.checkRouter(ctx) == nil
	if !swaps {
		s.disableSwaps()
	}

	nextSwap := s.clock.Now()
	for round := 1; ctx.Err() == nil; round++ {
		s.logger.Info("Starting claim round", slog.Int("round", round))
		s.claimRound(ctx)
		if ctx.Err() != nil {
			break
		}

		if !swaps || s.clock.Now().Before(nextSwap) {
			continue
		}
		if err := s.swapPass(ctx); err != nil {
			swaps = false
			s.disableSwaps()
			continue
		}
		nextSwap = s.nextSwap(s.clock.Now())
		s.logger.Info("Next swap pass scheduled", slog.Time("at", nextSwap))
		for _, o := range s.observers {
			o.SetNextSwap(nextSwap)
		}
	}
	return nil
}

func (s *Scheduler) disableSwaps() {
	s.logger.Warn("Swaps disabled for the rest of the run, claims continue")
	for _, o := range s.observers {
		o.SetNextSwap(time.Time{})
	}
}

func (s *Scheduler) checkRouter(ctx context.Context) error {
	if err := s.swapper.CheckRouter(ctx); err != nil {
		s.logger.Error("Router check failed, aborting swap run", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// claimRound runs one round and records it. Panics are logged and swallowed.
func (s *Scheduler) claimRound(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Claim round panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	s.setState(ptypes.StateClaiming)
	round := s.claimer.ClaimAllRound(ctx, s.accounts, s.tokens)

	saveCtx := context.WithoutCancel(ctx)
	for _, r := range s.recorders {
		if err := r.SaveClaimRound(saveCtx, &round); err != nil {
			s.logger.Warn("Failed to record claim round", slog.String("round", round.ID), slog.String("error", err.Error()))
		}
	}
}

// swapPass runs one pass and records it. Only a fatal precondition is
// returned; panics and other failures are logged.
func (s *Scheduler) swapPass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Swap pass panicked", slog.String("panic", fmt.Sprint(r)))
			err = nil
		}
	}()

	s.setState(ptypes.StateSwapping)
	pass, passErr := s.swapper.SwapPass(ctx, s.accounts, s.tokens)

	saveCtx := context.WithoutCancel(ctx)
	for _, r := range s.recorders {
		if err := r.SaveSwapPass(saveCtx, &pass); err != nil {
			s.logger.Warn("Failed to record swap pass", slog.String("pass", pass.ID), slog.String("error", err.Error()))
		}
	}

	if errors.Is(passErr, txerr.ErrFatalPrecondition) {
		return passErr
	}
	if passErr != nil && ctx.Err() == nil {
		s.logger.Error("Error during swap pass", slog.String("error", passErr.Error()))
	}
	return nil
}

func (s *Scheduler) nextSwap(from time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(from)
	}
	return from.Add(s.interval)
}

func (s *Scheduler) sleeping(next time.Time) {
	s.logger.Info("Next run scheduled", slog.Time("at", next))
	s.setState(ptypes.StateSleeping)
	for _, o := range s.observers {
		o.SetNextSwap(next)
	}
}

func (s *Scheduler) setState(state ptypes.BotState) {
	for _, o := range s.observers {
		o.SetState(state)
	}
}

func (s *Scheduler) stopped(msg string) {
	s.setState(ptypes.StateStopped)
	s.logger.Info(msg)
}
