package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the faucet bot.
type PrometheusMetrics struct {
	// Transaction counters
	TxTotal     *prometheus.CounterVec
	ErrorsTotal *prometheus.CounterVec

	// Rounds and passes
	RunsTotal  *prometheus.CounterVec
	UnitsTotal *prometheus.CounterVec

	// Gauges
	BotState          *prometheus.GaugeVec
	NextSwapTimestamp prometheus.Gauge

	// Histograms
	ConfirmLatency *prometheus.HistogramVec
	TxAttempts     *prometheus.HistogramVec
	RPCLatency     *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucetbot_transactions_total",
				Help: "Transactions by status and kind",
			},
			[]string{"status", "tx_type"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucetbot_errors_total",
				Help: "Terminal transaction failures by category and kind",
			},
			[]string{"category", "tx_type"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucetbot_runs_total",
				Help: "Finished claim rounds and swap passes by result",
			},
			[]string{"kind", "result"},
		),

		UnitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucetbot_units_total",
				Help: "Per (account, token) outcomes",
			},
			[]string{"kind", "outcome"},
		),

		BotState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "faucetbot_state",
				Help: "Current scheduler state (1 if active, 0 otherwise)",
			},
			[]string{"state"},
		),

		NextSwapTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "faucetbot_next_swap_timestamp_seconds",
				Help: "Unix time of the next scheduled swap pass",
			},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faucetbot_confirmation_latency_seconds",
				Help:    "Time from first build to confirmed receipt",
				Buckets: []float64{2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"tx_type"},
		),

		TxAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faucetbot_transaction_attempts",
				Help:    "Submission attempts needed per confirmed transaction",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"tx_type"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faucetbot_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "status"},
		),
	}
}

// TxSubmitted records a broadcast transaction.
func (m *PrometheusMetrics) TxSubmitted(kind types.TxKind) {
	m.TxTotal.WithLabelValues("sent", string(kind)).Inc()
}

// TxConfirmed records a confirmed transaction.
func (m *PrometheusMetrics) TxConfirmed(kind types.TxKind, attempts int, latency time.Duration) {
	m.TxTotal.WithLabelValues("confirmed", string(kind)).Inc()
	m.ConfirmLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
	m.TxAttempts.WithLabelValues(string(kind)).Observe(float64(attempts))
}

// TxFailed records a terminal failure.
func (m *PrometheusMetrics) TxFailed(kind types.TxKind, category string) {
	m.TxTotal.WithLabelValues("failed", string(kind)).Inc()
	m.ErrorsTotal.WithLabelValues(category, string(kind)).Inc()
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_getCode":               true,
	"eth_gasPrice":              true,
	"eth_getBalance":            true,
	"eth_getTransactionReceipt": true,
	"eth_call":                  true,
	"eth_estimateGas":           true,
	"eth_chainId":               true,
	"net_version":               true,
}

// RecordRPC records one RPC attempt. Its signature matches rpc.Observer.
func (m *PrometheusMetrics) RecordRPC(method string, success bool, latency time.Duration) {
	if !knownRPCMethods[method] {
		method = "other"
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(method, status).Observe(latency.Seconds())
}

// SaveClaimRound counts a finished claim round.
func (m *PrometheusMetrics) SaveClaimRound(_ context.Context, round *types.ClaimRound) error {
	m.RunsTotal.WithLabelValues(string(types.RunClaimRound), runResult(round.AllSucceeded, false)).Inc()
	for _, r := range round.Results {
		m.UnitsTotal.WithLabelValues(string(types.RunClaimRound), string(r.Outcome)).Inc()
	}
	return nil
}

// SaveSwapPass counts a finished swap pass.
func (m *PrometheusMetrics) SaveSwapPass(_ context.Context, pass *types.SwapPass) error {
	m.RunsTotal.WithLabelValues(string(types.RunSwapPass), runResult(pass.AllSucceeded, pass.Aborted)).Inc()
	for _, r := range pass.Results {
		m.UnitsTotal.WithLabelValues(string(types.RunSwapPass), string(r.Outcome)).Inc()
	}
	return nil
}

func runResult(allSucceeded, aborted bool) string {
	switch {
	case aborted:
		return "aborted"
	case allSucceeded:
		return "success"
	default:
		return "partial"
	}
}

var botStates = []types.BotState{
	types.StateIdle, types.StateClaiming, types.StateSwapping, types.StateSleeping, types.StateStopped,
}

// SetState sets exactly one state gauge to 1.
func (m *PrometheusMetrics) SetState(state types.BotState) {
	for _, s := range botStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BotState.WithLabelValues(string(s)).Set(v)
	}
}

// SetNextSwap records when the next swap pass is due.
func (m *PrometheusMetrics) SetNextSwap(at time.Time) {
	if at.IsZero() {
		m.NextSwapTimestamp.Set(0)
		return
	}
	m.NextSwapTimestamp.Set(float64(at.Unix()))
}
