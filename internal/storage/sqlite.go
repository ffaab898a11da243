package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps API reads from blocking the scheduler's writes.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		all_succeeded INTEGER NOT NULL DEFAULT 0,
		aborted INTEGER NOT NULL DEFAULT 0,
		abort_reason TEXT,
		units INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, started_at DESC);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		account TEXT NOT NULL,
		token_symbol TEXT NOT NULL,
		token_address TEXT NOT NULL,
		outcome TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		nonce INTEGER,
		tx_hash TEXT,
		approve_tx_hash TEXT,
		amount_in TEXT,
		balance_before TEXT,
		balance_after TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		error_category TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, position);
	CREATE INDEX IF NOT EXISTS idx_results_tx ON results(tx_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveClaimRound stores a claim round and its per-unit results.
func (s *SQLiteStorage) SaveClaimRound(ctx context.Context, round *types.ClaimRound) error {
	rows := make([]resultRow, len(round.Results))
	for i, r := range round.Results {
		rows[i] = claimRow(i, r)
	}
	return s.saveRun(ctx, round.Summarize(), "", rows)
}

// SaveSwapPass stores a swap pass and its per-unit results.
func (s *SQLiteStorage) SaveSwapPass(ctx context.Context, pass *types.SwapPass) error {
	rows := make([]resultRow, len(pass.Results))
	for i, r := range pass.Results {
		rows[i] = swapRow(i, r)
	}
	return s.saveRun(ctx, pass.Summarize(), pass.AbortReason, rows)
}

// saveRun writes the run and all of its results in one transaction.
// Saving an id twice replaces the earlier record.
func (s *SQLiteStorage) saveRun(ctx context.Context, sum types.RunSummary, abortReason string, rows []resultRow) error {
	if sum.ID == "" {
		return fmt.Errorf("run has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", sum.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, started_at, finished_at, all_succeeded, aborted, abort_reason,
			units, succeeded, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sum.ID, string(sum.Kind), sum.StartedAt.UTC(), sum.FinishedAt.UTC(), sum.AllSucceeded,
		abortReason != "", nullString(abortReason), sum.Units, sum.Succeeded, sum.Failed, sum.Skipped)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", sum.ID, err)
	}

	if len(rows) == 0 {
		return tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, position, account, token_symbol, token_address, outcome, success,
			nonce, tx_hash, approve_tx_hash, amount_in, balance_before, balance_after,
			attempts, error, error_category, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, sum.ID, r.Position, r.Account, r.TokenSymbol, r.TokenAddress,
			r.Outcome, r.Success, r.Nonce, nullString(r.TxHash), nullString(r.ApproveTxHash),
			nullString(r.AmountIn), nullString(r.BalanceBefore), nullString(r.BalanceAfter),
			r.Attempts, nullString(r.Error), nullString(r.ErrorCategory), r.DurationMs)
		if err != nil {
			return fmt.Errorf("insert result %d of run %s: %w", r.Position, sum.ID, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, kind, started_at, finished_at, all_succeeded, COALESCE(abort_reason, ''),
	units, succeeded, failed, skipped`

// ListRuns returns a page of run summaries, newest first. An empty kind
// lists every run.
func (s *SQLiteStorage) ListRuns(ctx context.Context, kind types.RunKind, limit, offset int) (*PaginatedRuns, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE (? = '' OR kind = ?)", string(kind), string(kind),
	).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE (? = '' OR kind = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, string(kind), string(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]types.RunSummary, 0, limit)
	for rows.Next() {
		var abortReason string
		sum, err := scanSummary(rows, &abortReason)
		if err != nil {
			return nil, err
		}
		runs = append(runs, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// GetRun retrieves one run with its results. It returns nil, nil when the id
// is unknown.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunDetail, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)

	var detail types.RunDetail
	sum, err := scanSummary(row, &detail.AbortReason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	detail.RunSummary = sum

	results, err := s.getResults(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sum.Kind {
	case types.RunClaimRound:
		detail.ClaimResults = make([]types.ClaimResult, 0, len(results))
		for _, r := range results {
			detail.ClaimResults = append(detail.ClaimResults, types.ClaimResult{
				Account:       r.Account,
				Token:         types.Token{Symbol: r.TokenSymbol, Address: common.HexToAddress(r.TokenAddress)},
				Outcome:       types.Outcome(r.Outcome),
				Success:       r.Success,
				Nonce:         uint64(r.Nonce),
				TxHash:        r.TxHash,
				Attempts:      r.Attempts,
				BalanceBefore: r.BalanceBefore,
				BalanceAfter:  r.BalanceAfter,
				Error:         r.Error,
				ErrorCategory: r.ErrorCategory,
				DurationMs:    r.DurationMs,
			})
		}
	case types.RunSwapPass:
		detail.SwapResults = make([]types.SwapResult, 0, len(results))
		for _, r := range results {
			detail.SwapResults = append(detail.SwapResults, types.SwapResult{
				Account:       r.Account,
				Token:         types.Token{Symbol: r.TokenSymbol, Address: common.HexToAddress(r.TokenAddress)},
				Outcome:       types.Outcome(r.Outcome),
				Success:       r.Success,
				AmountIn:      r.AmountIn,
				ApproveTxHash: r.ApproveTxHash,
				TxHash:        r.TxHash,
				Attempts:      r.Attempts,
				Error:         r.Error,
				ErrorCategory: r.ErrorCategory,
				DurationMs:    r.DurationMs,
			})
		}
	}

	return &detail, nil
}

// DeleteRun deletes a run and its results.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

func (s *SQLiteStorage) getResults(ctx context.Context, runID string) ([]resultRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, account, token_symbol, token_address, outcome, success,
			COALESCE(nonce, 0), tx_hash, approve_tx_hash, amount_in, balance_before, balance_after,
			attempts, error, error_category, duration_ms
		FROM results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []resultRow
	for rows.Next() {
		var r resultRow
		var txHash, approveHash, amountIn, before, after, errMsg, category sql.NullString
		err := rows.Scan(&r.Position, &r.Account, &r.TokenSymbol, &r.TokenAddress, &r.Outcome, &r.Success,
			&r.Nonce, &txHash, &approveHash, &amountIn, &before, &after,
			&r.Attempts, &errMsg, &category, &r.DurationMs)
		if err != nil {
			return nil, err
		}
		r.TxHash = txHash.String
		r.ApproveTxHash = approveHash.String
		r.AmountIn = amountIn.String
		r.BalanceBefore = before.String
		r.BalanceAfter = after.String
		r.Error = errMsg.String
		r.ErrorCategory = category.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(sc scanner, abortReason *string) (types.RunSummary, error) {
	var sum types.RunSummary
	var kind string
	err := sc.Scan(&sum.ID, &kind, &sum.StartedAt, &sum.FinishedAt, &sum.AllSucceeded, abortReason,
		&sum.Units, &sum.Succeeded, &sum.Failed, &sum.Skipped)
	if err != nil {
		return types.RunSummary{}, err
	}
	sum.Kind = types.RunKind(kind)
	return sum, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
