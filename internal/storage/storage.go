package storage

import (
	"context"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// Storage defines the persistence interface for run history.
type Storage interface {
	// Recording (called by the scheduler after every round or pass)
	SaveClaimRound(ctx context.Context, round *types.ClaimRound) error
	SaveSwapPass(ctx context.Context, pass *types.SwapPass) error

	// History queries
	ListRuns(ctx context.Context, kind types.RunKind, limit, offset int) (*PaginatedRuns, error)
	GetRun(ctx context.Context, id string) (*types.RunDetail, error)
	DeleteRun(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}
