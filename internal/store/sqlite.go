package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	config        TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_type    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	queued_at     TEXT,
	started_at    TEXT,
	ended_at      TEXT,
	checkpoint    TEXT,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	seq          INTEGER NOT NULL,
	side         TEXT NOT NULL,
	signal_type  TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	fee          TEXT NOT NULL,
	ts           TEXT NOT NULL,
	pnl          TEXT NOT NULL,
	duration_sec INTEGER NOT NULL DEFAULT 0,
	entry_price  TEXT NOT NULL,
	exit_price   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, seq);

CREATE TABLE IF NOT EXISTS results (
	run_id          TEXT PRIMARY KEY REFERENCES runs(id),
	metrics         TEXT NOT NULL,
	equity_curve    TEXT NOT NULL,
	sampled         INTEGER NOT NULL,
	sample_rate     INTEGER NOT NULL,
	original_length INTEGER NOT NULL
);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use store. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent engine checkpoints.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts a new run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	var cp any
	if run.Checkpoint != nil {
		data, err := json.Marshal(run.Checkpoint)
		if err != nil {
			return fmt.Errorf("marshaling checkpoint: %w", err)
		}
		cp = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, config, status, error_type, error_message,
			queued_at, started_at, ended_at, checkpoint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(cfg), string(run.Status),
		string(run.ErrorType), run.ErrorMessage,
		timePtr(run.QueuedAt), timePtr(run.StartedAt), timePtr(run.EndedAt),
		cp, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, config, status, error_type, error_message,
			queued_at, started_at, ended_at, checkpoint
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs matching status (all when empty), newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, status domain.RunStatus) ([]domain.Run, error) {
	query := `
		SELECT id, config, status, error_type, error_message,
			queued_at, started_at, ended_at, checkpoint
		FROM runs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateStatus transitions a run's status. Terminal states are immutable;
// updating one returns ErrTerminal.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errType domain.ErrorType, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("reading current status: %w", err)
	}
	if domain.RunStatus(current).Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, current)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	set := `status = ?, error_type = ?, error_message = ?, updated_at = ?`
	args := []any{string(status), string(errType), errMsg, now}

	switch status {
	case domain.StatusQueued:
		set += `, queued_at = ?`
		args = append(args, now)
	case domain.StatusRunning:
		set += `, started_at = ?`
		args = append(args, now)
	case domain.StatusCompleted, domain.StatusStopped, domain.StatusError:
		set += `, ended_at = ?`
		args = append(args, now)
	}
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET `+set+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return tx.Commit()
}

// SaveCheckpoint persists mid-run progress.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID string, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET checkpoint = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetForResume moves an interrupted run back to pending so a resumed
// engine can pick it up from its checkpoint.
func (s *SQLiteStore) ResetForResume(ctx context.Context, runID string, cfg domain.RunConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status, errType string
	if err := tx.QueryRowContext(ctx, `SELECT status, error_type FROM runs WHERE id = ?`, runID).Scan(&status, &errType); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("reading current status: %w", err)
	}
	if domain.RunStatus(status) != domain.StatusError || domain.ErrorType(errType) != domain.ErrorInterrupted {
		return fmt.Errorf("run %s is %s/%s, only interrupted runs can resume", runID, status, errType)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET config = ?, status = ?, error_type = '', error_message = '',
			ended_at = NULL, updated_at = ?
		WHERE id = ?`,
		string(data), string(domain.StatusPending),
		time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("resetting run: %w", err)
	}
	return tx.Commit()
}

// ReplaceTrades replaces the trade list of a run.
func (s *SQLiteStore) ReplaceTrades(ctx context.Context, runID string, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing trades: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (id, run_id, seq, side, signal_type, quantity,
			price, fee, ts, pnl, duration_sec, entry_price, exit_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range trades {
		_, err := stmt.ExecContext(ctx,
			t.ID, runID, i, string(t.Side), string(t.SignalType),
			t.Quantity.String(), t.Price.String(), t.Fee.String(),
			t.Time.UTC().Format(time.RFC3339Nano),
			t.PnL.String(), t.DurationSec,
			t.EntryPrice.String(), t.ExitPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetTrades returns a run's trades in execution order.
func (s *SQLiteStore) GetTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, signal_type, quantity, price, fee, ts, pnl,
			duration_sec, entry_price, exit_price
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, sigType, quantity, price, fee, ts, pnl, entry, exit string
		if err := rows.Scan(&t.ID, &side, &sigType, &quantity, &price, &fee,
			&ts, &pnl, &t.DurationSec, &entry, &exit); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.RunID = runID
		t.Side = domain.TradeSide(side)
		t.SignalType = domain.SignalType(sigType)
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parsing quantity: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing price: %w", err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parsing fee: %w", err)
		}
		if t.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parsing pnl: %w", err)
		}
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("parsing entry price: %w", err)
		}
		if t.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("parsing exit price: %w", err)
		}
		if t.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing trade time: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveResult persists metrics and the sampled equity curve.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *Result) error {
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}
	curve, err := json.Marshal(res.EquityCurve)
	if err != nil {
		return fmt.Errorf("marshaling equity curve: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (run_id, metrics, equity_curve, sampled, sample_rate, original_length)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			metrics = excluded.metrics,
			equity_curve = excluded.equity_curve,
			sampled = excluded.sampled,
			sample_rate = excluded.sample_rate,
			original_length = excluded.original_length`,
		runID, string(metrics), string(curve),
		boolToInt(res.SampleMeta.Sampled), res.SampleMeta.SampleRate, res.SampleMeta.OriginalLength,
	)
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

// GetResult retrieves a run's persisted result.
func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT metrics, equity_curve, sampled, sample_rate, original_length
		FROM results WHERE run_id = ?`, runID)

	var metrics, curve string
	var sampled int
	res := &Result{}
	if err := row.Scan(&metrics, &curve, &sampled, &res.SampleMeta.SampleRate, &res.SampleMeta.OriginalLength); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading result: %w", err)
	}
	res.SampleMeta.Sampled = sampled != 0

	if err := json.Unmarshal([]byte(metrics), &res.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshaling metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(curve), &res.EquityCurve); err != nil {
		return nil, fmt.Errorf("unmarshaling equity curve: %w", err)
	}
	return res, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var cfg string
	var status, errType string
	var queuedAt, startedAt, endedAt, checkpoint sql.NullString

	err := row.Scan(&run.ID, &cfg, &status, &errType, &run.ErrorMessage,
		&queuedAt, &startedAt, &endedAt, &checkpoint)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.ErrorType = domain.ErrorType(errType)

	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if checkpoint.Valid && checkpoint.String != "" {
		run.Checkpoint = &domain.Checkpoint{}
		if err := json.Unmarshal([]byte(checkpoint.String), run.Checkpoint); err != nil {
			return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
		}
	}

	if run.QueuedAt, err = parseNullTime(queuedAt); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
