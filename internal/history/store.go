// Package history persists per-epoch training results in a local SQLite
// database so loss curves survive process restarts.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"lorad/internal/manager"
	"lorad/pkg/types"
)

// Store is a SQLite-backed epoch log. It also implements
// manager.EventPublisher, recording train_epoch events and ignoring the rest.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (or opens) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS epochs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model_path TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		train_loss REAL NOT NULL,
		eval_loss REAL NOT NULL,
		eval_skipped INTEGER NOT NULL,
		elapsed_s REAL NOT NULL,
		created_unix INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordEpoch appends one epoch row.
func (s *Store) RecordEpoch(r types.EpochRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedUnix == 0 {
		r.CreatedUnix = time.Now().Unix()
	}
	skipped := 0
	if r.EvalSkipped {
		skipped = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO epochs (model_path, epoch, train_loss, eval_loss, eval_skipped, elapsed_s, created_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ModelPath, r.Epoch, r.TrainLoss, r.EvalLoss, skipped, r.ElapsedSeconds, r.CreatedUnix)
	return err
}

// Epochs returns the most recent rows, newest first. limit <= 0 means all.
func (s *Store) Epochs(limit int) ([]types.EpochRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `SELECT model_path, epoch, train_loss, eval_loss, eval_skipped, elapsed_s, created_unix
		FROM epochs ORDER BY id DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.EpochRecord
	for rows.Next() {
		var r types.EpochRecord
		var skipped int
		if err := rows.Scan(&r.ModelPath, &r.Epoch, &r.TrainLoss, &r.EvalLoss,
			&skipped, &r.ElapsedSeconds, &r.CreatedUnix); err != nil {
			return nil, err
		}
		r.EvalSkipped = skipped != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Publish implements manager.EventPublisher. Only train_epoch events are
// persisted; a failed insert is dropped since event publishing cannot fail
// the training call.
func (s *Store) Publish(e manager.Event) {
	if e.Name != "train_epoch" {
		return
	}
	r := types.EpochRecord{
		ModelPath:      stringField(e.Fields, "model_path"),
		Epoch:          intField(e.Fields, "epoch"),
		TrainLoss:      floatField(e.Fields, "train_loss"),
		EvalLoss:       floatField(e.Fields, "eval_loss"),
		ElapsedSeconds: floatField(e.Fields, "elapsed_s"),
	}
	if v, ok := e.Fields["eval_skipped"].(bool); ok {
		r.EvalSkipped = v
	}
	_ = s.RecordEpoch(r)
}

func stringField(f map[string]any, key string) string {
	v, _ := f[key].(string)
	return v
}

func intField(f map[string]any, key string) int {
	switch v := f[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatField(f map[string]any, key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
