// Package transport provides the HTTP status API and websocket stream.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/faucetbot/internal/chain"
	"github.com/gateway-fm/faucetbot/internal/storage"
	"github.com/gateway-fm/faucetbot/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	readyTimeout        = 5 * time.Second
)

// StatusSource is the live view of the bot. Version changes whenever the
// status does.
type StatusSource interface {
	Status() types.Status
	Version() uint64
}

// HistoryStore is the read side of run history.
type HistoryStore interface {
	ListRuns(ctx context.Context, kind types.RunKind, limit, offset int) (*storage.PaginatedRuns, error)
	GetRun(ctx context.Context, id string) (*types.RunDetail, error)
	DeleteRun(ctx context.Context, id string) error
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// ChainHealth checks that the RPC endpoint answers and still serves the
// expected chain.
type ChainHealth struct {
	Client  chain.Client
	ChainID *big.Int
}

// CheckRPC implements HealthChecker.
func (h ChainHealth) CheckRPC(ctx context.Context) error {
	id, err := h.Client.ChainID(ctx)
	if err != nil {
		return err
	}
	if h.ChainID != nil && id.Cmp(h.ChainID) != 0 {
		return fmt.Errorf("chain id %s, want %s", id, h.ChainID)
	}
	return nil
}

// Server handles HTTP requests for the bot.
type Server struct {
	status    StatusSource
	history   HistoryStore
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. history may be nil when persistence
// is disabled.
func NewServer(status StatusSource, history HistoryStore, health HealthChecker, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		status:    status,
		history:   history,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
	}
	for _, o := range strings.Split(corsAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			s.corsAllowedOrigins = append(s.corsAllowedOrigins, o)
		}
	}
	s.corsAllowAll = len(s.corsAllowedOrigins) == 0 || slices.Contains(s.corsAllowedOrigins, "*")

	s.wsServer = NewWebSocketServer(status, logger, s.originAllowed)
	s.wsServer.Start()
	return s
}

func (s *Server) originAllowed(origin string) bool {
	return s.corsAllowAll || slices.Contains(s.corsAllowedOrigins, origin)
}

// Close stops the websocket broadcaster and disconnects its clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns the API routes. CORS applies to the /v1 surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/history/{$}", s.handleMissingID)
	mux.HandleFunc("GET /v1/history/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /v1/history/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /v1/ws", s.wsServer.Handler())

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.cors(mux)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if s.corsAllowAll {
			h.Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, format string, args ...any) {
	s.respond(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.status.Status())
}

// historyEnabled writes 503 when the bot runs without a database.
func (s *Server) historyEnabled(w http.ResponseWriter) bool {
	if s.history == nil {
		s.fail(w, http.StatusServiceUnavailable, "history is disabled")
		return false
	}
	return true
}

// handleHistory lists run summaries. Query: kind, limit (1..100), offset.
// Out-of-range limit and offset fall back to defaults.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}

	q := r.URL.Query()
	kind := types.RunKind(q.Get("kind"))
	if kind != "" && kind != types.RunClaimRound && kind != types.RunSwapPass {
		s.fail(w, http.StatusBadRequest, "invalid kind %q", kind)
		return
	}
	limit := queryInt(q.Get("limit"), defaultHistoryLimit, 1, maxHistoryLimit)
	offset := queryInt(q.Get("offset"), 0, 0, math.MaxInt)

	page, err := s.history.ListRuns(r.Context(), kind, limit, offset)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "list runs: %v", err)
		return
	}
	s.respond(w, http.StatusOK, page)
}

func queryInt(raw string, def, lo, hi int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}

func (s *Server) handleMissingID(w http.ResponseWriter, _ *http.Request) {
	if s.historyEnabled(w) {
		s.fail(w, http.StatusBadRequest, "missing run id")
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	id := r.PathValue("id")
	run, err := s.history.GetRun(r.Context(), id)
	switch {
	case err != nil:
		s.fail(w, http.StatusInternalServerError, "get run: %v", err)
	case run == nil:
		s.fail(w, http.StatusNotFound, "run %s not found", id)
	default:
		s.respond(w, http.StatusOK, run)
	}
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	if err := s.history.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, http.StatusInternalServerError, "delete run: %v", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleHealth is the liveness probe. It never touches the RPC.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"state":          s.status.Status().State,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck is one entry of the /ready response.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady fails when the RPC is unreachable or serves another chain, or
// when the scheduler has stopped.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var checks []ReadinessCheck

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		start := time.Now()
		err := s.health.CheckRPC(ctx)
		checks = append(checks, checkResult("rpc", time.Since(start), err))
	}
	if s.status.Status().State == types.StateStopped {
		checks = append(checks, checkResult("scheduler", 0, errors.New("scheduler stopped")))
	}

	ready := !slices.ContainsFunc(checks, func(c ReadinessCheck) bool { return c.Status != "ok" })
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	if checks == nil {
		checks = []ReadinessCheck{}
	}
	s.respond(w, code, map[string]any{"ready": ready, "checks": checks})
}

func checkResult(name string, latency time.Duration, err error) ReadinessCheck {
	c := ReadinessCheck{Name: name, Status: "ok", LatencyMs: latency.Milliseconds()}
	if err != nil {
		c.Status = "failed"
		c.Error = err.Error()
	}
	return c
}
