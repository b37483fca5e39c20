// Package history records the epoch results of every training run in a
// SQLite database next to the checkpoints.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver

	"github.com/born-ml/matcher/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	model_name TEXT NOT NULL,
	phase      INTEGER NOT NULL,
	config     TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS epochs (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	epoch      INTEGER NOT NULL,
	train_loss REAL NOT NULL,
	val_loss   REAL NOT NULL,
	accuracy   REAL NOT NULL,
	correct    INTEGER NOT NULL,
	total      INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	best       BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, epoch)
);
`

// Run identifies one training process.
type Run struct {
	ID        string
	ModelName string
	Phase     int
	Config    string // YAML dump of the run config
	StartedAt time.Time
}

// Epoch is a stored epoch result.
type Epoch struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Accuracy  float64
	Correct   int
	Total     int
	Elapsed   time.Duration
	Best      bool
}

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
}

// Open opens (and creates when needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// StartRun registers a run.
func (s *Store) StartRun(ctx context.Context, r Run) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO runs (id, model_name, phase, config, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ModelName, r.Phase, r.Config, r.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordEpoch stores the result of one epoch of run runID.
func (s *Store) RecordEpoch(ctx context.Context, runID string, r metrics.EpochResult) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO epochs (run_id, epoch, train_loss, val_loss, accuracy, correct, total, elapsed_ms, best)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Epoch, r.TrainLoss, r.Eval.MeanLoss(), r.Eval.Accuracy(),
		r.Eval.Correct, r.Eval.Total, r.Elapsed.Milliseconds(), r.Best)
	if err != nil {
		return fmt.Errorf("insert epoch %d: %w", r.Epoch, err)
	}
	return nil
}

// Epochs returns the stored epochs of runID in epoch order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]Epoch, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT epoch, train_loss, val_loss, accuracy, correct, total, elapsed_ms, best
		 FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var out []Epoch
	for rows.Next() {
		var e Epoch
		var elapsedMS int64
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.ValLoss, &e.Accuracy, &e.Correct, &e.Total, &elapsedMS, &e.Best); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// BestAccuracy returns the highest accuracy ever stored for modelName in
// phase, and false when there is none.
func (s *Store) BestAccuracy(ctx context.Context, modelName string, phase int) (float64, bool, error) {
	var acc sql.NullFloat64
	err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(e.accuracy) FROM epochs e JOIN runs r ON r.id = e.run_id
		 WHERE r.model_name = ? AND r.phase = ?`, modelName, phase).Scan(&acc)
	if err != nil {
		return 0, false, fmt.Errorf("query best accuracy: %w", err)
	}
	return acc.Float64, acc.Valid, nil
}

// LatestRun returns the most recently started run, and false when the
// database has none.
func (s *Store) LatestRun(ctx context.Context) (Run, bool, error) {
	var r Run
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, model_name, phase, config, started_at FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.ModelName, &r.Phase, &r.Config, &r.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("query latest run: %w", err)
	}
	return r, true, nil
}

// Result converts e to the shape the run summary renders. The stored
// validation loss is already a mean, so it counts as a single batch.
func (e Epoch) Result() metrics.EpochResult {
	return metrics.EpochResult{
		Epoch:     e.Epoch,
		TrainLoss: e.TrainLoss,
		Eval: metrics.EvalResult{
			Correct: e.Correct,
			Total:   e.Total,
			LossSum: e.ValLoss,
			Batches: 1,
		},
		Elapsed: e.Elapsed,
		Best:    e.Best,
	}
}
