// Faucet bot: claims testnet tokens from faucet contracts on a schedule and
// swaps the proceeds back to the native token.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/faucetbot/internal/account"
	"github.com/gateway-fm/faucetbot/internal/chain"
	"github.com/gateway-fm/faucetbot/internal/claim"
	"github.com/gateway-fm/faucetbot/internal/clock"
	"github.com/gateway-fm/faucetbot/internal/config"
	"github.com/gateway-fm/faucetbot/internal/metrics"
	"github.com/gateway-fm/faucetbot/internal/rpc"
	"github.com/gateway-fm/faucetbot/internal/scheduler"
	"github.com/gateway-fm/faucetbot/internal/storage"
	"github.com/gateway-fm/faucetbot/internal/submitter"
	"github.com/gateway-fm/faucetbot/internal/swap"
	"github.com/gateway-fm/faucetbot/internal/transport"
	"github.com/gateway-fm/faucetbot/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("faucet bot stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("faucet bot stopped")
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	prom := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	rpcCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	rpcCfg.Timeout = cfg.RPCTimeout
	rpcCfg.MaxRetries = cfg.RPCMaxRetries
	rpcCfg.RateLimit = cfg.RPCRateLimit
	rpcCfg.Observer = prom.RecordRPC
	rpcCfg.Logger = logger
	client := chain.NewRPCClient(rpc.NewHTTPClient(rpcCfg))

	chainID, err := resolveChainID(ctx, client, cfg.ChainID, logger)
	if err != nil {
		return err
	}

	accounts, err := account.LoadAll(cfg.PrivateKeys, chainID)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	addrs := make([]string, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.String()
	}
	logger.Info("Loaded accounts", slog.Int("count", len(accounts)), slog.Any("addresses", addrs))

	tracker := metrics.NewTracker(cfg.Mode, chainID.String(), len(accounts), cfg.Tokens)
	clk := clock.Real{}

	sub := submitter.New(submitter.Config{
		Chain:         client,
		Clock:         clk,
		ExplorerTxURL: cfg.ExplorerTxURL,
		Observer:      metrics.Multi(prom, tracker),
		Logger:        logger,
	})

	var claimer scheduler.Claimer
	if cfg.Mode == types.ModeClaim || cfg.Mode == types.ModeAll {
		claimer = claim.New(client, sub, clk, claim.Config{
			Workers:        cfg.ClaimWorkers,
			GasLimit:       cfg.ClaimGasLimit,
			MaxRetries:     cfg.ClaimMaxRetries,
			ConfirmTimeout: cfg.ClaimConfirmTimeout,
			CooldownSkip:   cfg.ClaimCooldownSkip,
			Cooldown:       cfg.ClaimCooldown,
		}, logger)
	}

	var swapper scheduler.Swapper
	if cfg.Mode == types.ModeSwap || cfg.Mode == types.ModeAll {
		swapCfg := swap.DefaultConfig(cfg.RouterAddress)
		swapCfg.WrappedNativeSymbol = cfg.WrappedNativeSymbol
		swapCfg.GasMultiplier = cfg.SwapGasMultiplier
		swapCfg.ApproveGasLimit = cfg.ApproveGasLimit
		swapCfg.MaxAttempts = cfg.SwapMaxAttempts
		swapCfg.SubmitRetries = cfg.SwapSubmitRetries
		swapCfg.MinNativeBalance = cfg.MinNativeBalance
		orch, err := swap.New(client, sub, clk, swapCfg, logger)
		if err != nil {
			return fmt.Errorf("swap: %w", err)
		}
		swapper = orch
	}

	recorders := []scheduler.Recorder{prom, tracker}
	var history transport.HistoryStore
	if cfg.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		defer store.Close()
		logger.Info("Initialized storage", slog.String("path", cfg.DatabasePath))
		recorders = append(recorders, store)
		history = store
	}

	sched, err := scheduler.New(scheduler.Config{
		Accounts:     accounts,
		Tokens:       cfg.Tokens,
		SwapInterval: cfg.SwapInterval,
		SwapSchedule: cfg.SwapSchedule,
		Recorders:    recorders,
		Observers:    []scheduler.StateObserver{prom, tracker},
		Clock:        clk,
		Logger:       logger,
	}, claimer, swapper)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.ListenAddr != "" {
		api := transport.NewServer(tracker, history, transport.ChainHealth{Client: client, ChainID: chainID}, logger, cfg.CORSAllowedOrigins)
		defer api.Close()
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("addr", cfg.ListenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting faucet bot",
			slog.String("mode", string(cfg.Mode)),
			slog.String("chain_id", chainID.String()),
			slog.Int("tokens", len(cfg.Tokens)),
		)
		var err error
		switch cfg.Mode {
		case types.ModeClaim:
			err = sched.RunClaims(ctx)
		case types.ModeSwap:
			err = sched.RunSwaps(ctx)
		default:
			err = sched.RunAll(ctx)
		}
		if err != nil {
			return err
		}
		// A clean scheduler exit only happens on shutdown; make sure the
		// HTTP server follows.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveChainID checks the endpoint answers and, when a chain id is
// configured, that it matches the node's.
func resolveChainID(ctx context.Context, client chain.Client, configured int64, logger *slog.Logger) (*big.Int, error) {
	netVersion, err := client.NetVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("RPC endpoint unreachable: %w", err)
	}
	nodeID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	logger.Info("Connected to RPC",
		slog.String("net_version", netVersion),
		slog.String("chain_id", nodeID.String()),
	)

	if configured != 0 && nodeID.Cmp(big.NewInt(configured)) != 0 {
		return nil, fmt.Errorf("chain id mismatch: configured %d, node reports %s", configured, nodeID)
	}
	return nodeID, nil
}
