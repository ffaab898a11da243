package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gateway-fm/faucetbot/internal/account"
	"github.com/gateway-fm/faucetbot/internal/clock"
	"github.com/gateway-fm/faucetbot/internal/txerr"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// mockClaimer calls fn on every round and records the round number.
type mockClaimer struct {
	rounds int
	fn     func(round int)
}

func (m *mockClaimer) ClaimAllRound(context.Context, []*account.Account, []ptypes.Token) ptypes.ClaimRound {
	m.rounds++
	if m.fn != nil {
		m.fn(m.rounds)
	}
	return ptypes.ClaimRound{ID: "claim", AllSucceeded: true}
}

type mockSwapper struct {
	checkErr error
	passes   int
	fn       func(pass int) error
}

func (m *mockSwapper) CheckRouter(context.Context) error { return m.checkErr }

func (m *mockSwapper) SwapPass(context.Context, []*account.Account, []ptypes.Token) (ptypes.SwapPass, error) {
	m.passes++
	var err error
	if m.fn != nil {
		err = m.fn(m.passes)
	}
	return ptypes.SwapPass{ID: "swap", AllSucceeded: err == nil}, err
}

type mockRecorder struct {
	mu     sync.Mutex
	claims int
	swaps  int
	err    error
}

func (m *mockRecorder) SaveClaimRound(context.Context, *ptypes.ClaimRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims++
	return m.err
}

func (m *mockRecorder) SaveSwapPass(context.Context, *ptypes.SwapPass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swaps++
	return m.err
}

type mockObserver struct {
	states []ptypes.BotState
	next   []time.Time
}

func (m *mockObserver) SetState(s ptypes.BotState) { m.states = append(m.states, s) }
func (m *mockObserver) SetNextSwap(at time.Time)   { m.next = append(m.next, at) }

var start = time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, cfg Config, c Claimer, s Swapper) *Scheduler {
	t.Helper()
	sched, err := New(cfg, c, s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sched
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(Config{SwapSchedule: "every day"}, nil, nil); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestRunClaimsLoopsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	claimer := &mockClaimer{fn: func(round int) {
		if round == 3 {
			cancel()
		}
	}}
	rec := &mockRecorder{}
	obs := &mockObserver{}
	sched := newScheduler(t, Config{
		Clock:     clock.NewFake(start),
		Recorders: []Recorder{rec},
		Observers: []StateObserver{obs},
	}, claimer, nil)

	if err := sched.RunClaims(ctx); err != nil {
		t.Fatalf("RunClaims: %v", err)
	}
	if claimer.rounds != 3 || rec.claims != 3 {
		t.Errorf("rounds=%d recorded=%d, want 3/3", claimer.rounds, rec.claims)
	}
	if last := obs.states[len(obs.states)-1]; last != ptypes.StateStopped {
		t.Errorf("final state = %s", last)
	}
}

func TestRunClaimsSurvivesPanicAndRecorderError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	claimer := &mockClaimer{fn: func(round int) {
		switch round {
		case 1:
			panic("boom")
		case 2:
			cancel()
		}
	}}
	rec := &mockRecorder{err: errors.New("disk full")}
	sched := newScheduler(t, Config{Clock: clock.NewFake(start), Recorders: []Recorder{rec}}, claimer, nil)

	if err := sched.RunClaims(ctx); err != nil {
		t.Fatalf("RunClaims: %v", err)
	}
	if claimer.rounds != 2 {
		t.Errorf("rounds = %d, want 2", claimer.rounds)
	}
	if rec.claims != 1 {
		t.Errorf("recorded = %d, want only the round that finished", rec.claims)
	}
}

func TestRunSwapsSleepsInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewFake(start)
	swapper := &mockSwapper{fn: func(pass int) error {
		if pass == 2 {
			cancel()
		}
		return nil
	}}
	obs := &mockObserver{}
	sched := newScheduler(t, Config{Clock: clk, Observers: []StateObserver{obs}}, nil, swapper)

	if err := sched.RunSwaps(ctx); err != nil {
		t.Fatalf("RunSwaps: %v", err)
	}
	if swapper.passes != 2 {
		t.Errorf("passes = %d, want 2", swapper.passes)
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 24*time.Hour {
		t.Errorf("sleeps = %v, want [24h]", sleeps)
	}
	if len(obs.next) != 1 || !obs.next[0].Equal(start.Add(24*time.Hour)) {
		t.Errorf("next swap = %v", obs.next)
	}
}

func TestRunSwapsFollowsCronSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewFake(start)
	swapper := &mockSwapper{fn: func(pass int) error {
		if pass == 2 {
			cancel()
		}
		return nil
	}}
	sched := newScheduler(t, Config{Clock: clk, SwapSchedule: "0 3 * * *"}, nil, swapper)

	if err := sched.RunSwaps(ctx); err != nil {
		t.Fatalf("RunSwaps: %v", err)
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 5*time.Hour {
		t.Errorf("sleeps = %v, want [5h] until 03:00", sleeps)
	}
}

func TestRunSwapsFatalRouterCheck(t *testing.T) {
	swapper := &mockSwapper{checkErr: txerr.FatalPrecondition(errors.New("no code"))}
	sched := newScheduler(t, Config{Clock: clock.NewFake(start)}, nil, swapper)

	err := sched.RunSwaps(context.Background())
	if !errors.Is(err, txerr.ErrFatalPrecondition) {
		t.Fatalf("err = %v", err)
	}
	if swapper.passes != 0 {
		t.Errorf("passes = %d, want 0", swapper.passes)
	}
}

func TestRunSwapsFatalPassEndsLoop(t *testing.T) {
	clk := clock.NewFake(start)
	rec := &mockRecorder{}
	swapper := &mockSwapper{fn: func(int) error {
		return txerr.FatalPrecondition(errors.New("router vanished"))
	}}
	sched := newScheduler(t, Config{Clock: clk, Recorders: []Recorder{rec}}, nil, swapper)

	if err := sched.RunSwaps(context.Background()); !errors.Is(err, txerr.ErrFatalPrecondition) {
		t.Fatalf("err = %v", err)
	}
	if rec.swaps != 1 {
		t.Errorf("aborted pass should still be recorded, got %d", rec.swaps)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("sleeps = %v", clk.Sleeps())
	}
}

func TestRunSwapsContinuesAfterPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	swapper := &mockSwapper{fn: func(pass int) error {
		if pass == 1 {
			panic("nil balance")
		}
		cancel()
		return nil
	}}
	sched := newScheduler(t, Config{Clock: clock.NewFake(start)}, nil, swapper)

	if err := sched.RunSwaps(ctx); err != nil {
		t.Fatalf("RunSwaps: %v", err)
	}
	if swapper.passes != 2 {
		t.Errorf("passes = %d, want 2", swapper.passes)
	}
}

func TestRunAllInterleaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewFake(start)

	var events []string
	claimer := &mockClaimer{fn: func(int) {
		events = append(events, "claim")
		clk.Advance(12 * time.Hour)
	}}
	swapper := &mockSwapper{fn: func(pass int) error {
		events = append(events, "swap")
		if pass == 2 {
			cancel()
		}
		return nil
	}}
	sched := newScheduler(t, Config{Clock: clk}, claimer, swapper)

	if err := sched.RunAll(ctx); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	want := []string{"claim", "swap", "claim", "claim", "swap"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("combined mode must not block on sleeps, got %v", clk.Sleeps())
	}
}

func TestRunAllKeepsClaimingWhenRouterCheckFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewFake(start)
	obs := &mockObserver{}

	claimer := &mockClaimer{fn: func(round int) {
		clk.Advance(25 * time.Hour)
		if round == 3 {
			cancel()
		}
	}}
	swapper := &mockSwapper{checkErr: txerr.FatalPrecondition(errors.New("no code at router"))}
	sched := newScheduler(t, Config{Clock: clk, Observers: []StateObserver{obs}}, claimer, swapper)

	if err := sched.RunAll(ctx); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if claimer.rounds != 3 {
		t.Errorf("claim rounds = %d, want 3", claimer.rounds)
	}
	if swapper.passes != 0 {
		t.Errorf("swap passes = %d, want 0", swapper.passes)
	}
	if len(obs.next) != 1 || !obs.next[0].IsZero() {
		t.Errorf("next swap updates = %v, want one clear", obs.next)
	}
}

func TestRunAllFatalPassDisablesSwaps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewFake(start)
	rec := &mockRecorder{}

	claimer := &mockClaimer{fn: func(round int) {
		clk.Advance(25 * time.Hour)
		if round == 4 {
			cancel()
		}
	}}
	swapper := &mockSwapper{fn: func(int) error {
		return txerr.FatalPrecondition(errors.New("router vanished"))
	}}
	sched := newScheduler(t, Config{Clock: clk, Recorders: []Recorder{rec}}, claimer, swapper)

	if err := sched.RunAll(ctx); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if claimer.rounds != 4 || swapper.passes != 1 {
		t.Errorf("rounds/passes = %d/%d, want 4/1", claimer.rounds, swapper.passes)
	}
	if rec.claims != 4 || rec.swaps != 1 {
		t.Errorf("recorded claims/swaps = %d/%d, want 4/1", rec.claims, rec.swaps)
	}
}

func TestRunRequiresOrchestrators(t *testing.T) {
	sched := newScheduler(t, Config{}, nil, nil)
	if err := sched.RunClaims(context.Background()); err == nil {
		t.Error("RunClaims without claimer should fail")
	}
	if err := sched.RunSwaps(context.Background()); err == nil {
		t.Error("RunSwaps without swapper should fail")
	}
	if err := sched.RunAll(context.Background()); err == nil {
		t.Error("RunAll without both should fail")
	}
}
