// Package store keeps the history of training runs and served predictions in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/predict"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    epochs INTEGER NOT NULL,
    train_size INTEGER NOT NULL,
    validation_size INTEGER NOT NULL,
    val_loss REAL,
    val_accuracy REAL,
    error TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS epoch_metrics (
    run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
    epoch INTEGER NOT NULL,
    train_loss REAL NOT NULL,
    val_loss REAL NOT NULL,
    val_accuracy REAL NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    PRIMARY KEY (run_id, epoch)
);
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_version INTEGER NOT NULL,
    temperature REAL NOT NULL,
    vibration REAL NOT NULL,
    pressure REAL NOT NULL,
    speed REAL NOT NULL,
    load REAL NOT NULL,
    probability REAL NOT NULL,
    risk_level TEXT NOT NULL,
    confidence REAL NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON training_runs(started_at);
`

// RunRecord is one row of training_runs.
type RunRecord struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Epochs         int        `json:"epochs"`
	TrainSize      int        `json:"train_size"`
	ValidationSize int        `json:"validation_size"`
	ValLoss        *float64   `json:"val_loss,omitempty"`
	ValAccuracy    *float64   `json:"val_accuracy,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// PredictionRecord is one row of predictions.
type PredictionRecord struct {
	ID            int64            `json:"id"`
	ModelVersion  uint64           `json:"model_version"`
	Features      dataset.Features `json:"features"`
	Probability   float64          `json:"probability"`
	RiskLevel     string           `json:"risk_level"`
	Confidence    float64          `json:"confidence"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Store is a SQLite-backed history store.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// one connection: sqlite serialises writers and :memory: is per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, log: log, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a running run.
func (s *Store) StartRun(ctx context.Context, id string, epochs, trainSize, valSize int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO training_runs (id, status, epochs, train_size, validation_size, started_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, train.Running.String(), epochs, trainSize, valSize, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: start run %s: %w", id, err)
	}
	return nil
}

// RecordEpoch appends one epoch of metrics to a run.
func (s *Store) RecordEpoch(ctx context.Context, runID string, m train.Metrics) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO epoch_metrics (run_id, epoch, train_loss, val_loss, val_accuracy, elapsed_ms)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID, m.Epoch, m.TrainLoss, m.ValLoss, m.ValAccuracy, m.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("store: record epoch %d of %s: %w", m.Epoch, runID, err)
	}
	return nil
}

// FinishRun stores the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, res *train.Result) error {
	var valLoss, valAcc sql.NullFloat64
	if last, ok := res.Final(); ok {
		valLoss = sql.NullFloat64{Float64: last.ValLoss, Valid: true}
		valAcc = sql.NullFloat64{Float64: last.ValAccuracy, Valid: true}
	}
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}

	r, err := s.db.ExecContext(ctx,
		`UPDATE training_runs SET status = ?, val_loss = ?, val_accuracy = ?, error = ?, finished_at = ?
         WHERE id = ?`,
		res.Status.String(), valLoss, valAcc, errText, res.FinishedAt.UTC(), res.RunID)
	if err != nil {
		return fmt.Errorf("store: finish run %s: %w", res.RunID, err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("store: finish run %s: %w", res.RunID, ErrNotFound)
	}
	return nil
}

// Run returns one run.
func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, epochs, train_size, validation_size, val_loss, val_accuracy, error, started_at, finished_at
         FROM training_runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("store: run %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// Runs returns up to limit runs, most recent first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, epochs, train_size, validation_size, val_loss, val_accuracy, error, started_at, finished_at
         FROM training_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		rec      RunRecord
		valLoss  sql.NullFloat64
		valAcc   sql.NullFloat64
		finished sql.NullTime
	)
	err := sc.Scan(&rec.ID, &rec.Status, &rec.Epochs, &rec.TrainSize, &rec.ValidationSize,
		&valLoss, &valAcc, &rec.Error, &rec.StartedAt, &finished)
	if err != nil {
		return RunRecord{}, err
	}
	if valLoss.Valid {
		rec.ValLoss = &valLoss.Float64
	}
	if valAcc.Valid {
		rec.ValAccuracy = &valAcc.Float64
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return rec, nil
}

// Epochs returns the recorded metrics of a run in epoch order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]train.Metrics, error) {
	var epochs int
	if err := s.db.QueryRowContext(ctx, `SELECT epochs FROM training_runs WHERE id = ?`, runID).Scan(&epochs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: epochs of %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, train_loss, val_loss, val_accuracy, elapsed_ms
         FROM epoch_metrics WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: epochs of %s: %w", runID, err)
	}
	defer rows.Close()

	metrics := []train.Metrics{}
	for rows.Next() {
		m := train.Metrics{Epochs: epochs}
		var elapsedMs int64
		if err := rows.Scan(&m.Epoch, &m.TrainLoss, &m.ValLoss, &m.ValAccuracy, &elapsedMs); err != nil {
			return nil, err
		}
		m.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		m.Progress = float64(m.Epoch) / float64(epochs)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// RecordPrediction stores a served prediction.
func (s *Store) RecordPrediction(ctx context.Context, res predict.Result) error {
	f := res.InputFeatures
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (model_version, temperature, vibration, pressure, speed, load,
                                  probability, risk_level, confidence, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(res.ModelVersion), f[dataset.Temperature], f[dataset.Vibration], f[dataset.Pressure],
		f[dataset.Speed], f[dataset.Load], res.Probability, res.RiskLevel.String(), res.Confidence, s.now().UTC())
	if err != nil {
		return fmt.Errorf("store: record prediction: %w", err)
	}
	return nil
}

// Predictions returns up to limit predictions, most recent first.
func (s *Store) Predictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_version, temperature, vibration, pressure, speed, load,
                probability, risk_level, confidence, created_at
         FROM predictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list predictions: %w", err)
	}
	defer rows.Close()

	out := []PredictionRecord{}
	for rows.Next() {
		var p PredictionRecord
		var version int64
		f := &p.Features
		if err := rows.Scan(&p.ID, &version, &f[dataset.Temperature], &f[dataset.Vibration], &f[dataset.Pressure],
			&f[dataset.Speed], &f[dataset.Load], &p.Probability, &p.RiskLevel, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ModelVersion = uint64(version)
		out = append(out, p)
	}
	return out, rows.Err()
}
