package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"TradeSentinel/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder stores documents as JSON in a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL mode so the status endpoint can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			code       TEXT PRIMARY KEY,
			doc        TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			code       TEXT PRIMARY KEY,
			rank       INTEGER NOT NULL,
			doc        TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id          TEXT PRIMARY KEY,
			timestamp   INTEGER NOT NULL,
			side        TEXT NOT NULL,
			code        TEXT NOT NULL,
			quantity    INTEGER,
			price       REAL,
			reason      TEXT,
			realized_pl REAL,
			doc         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) SavePosition(p model.Position) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.Code, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`INSERT INTO positions (code, doc, updated_at) VALUES (?,?,?)
		ON CONFLICT(code) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		p.Code, string(doc), time.Now().Unix(),
	)
	return err
}

func (r *SQLiteRecorder) DeletePosition(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`DELETE FROM positions WHERE code = ?`, code)
	return err
}

func (r *SQLiteRecorder) LoadPositions() ([]model.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT doc FROM positions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p model.Position
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) SaveWatchlist(items []model.WatchItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		return err
	}
	now := time.Now().Unix()
	for i, it := range items {
		doc, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshal watch item %s: %w", it.Code, err)
		}
		if _, err := tx.Exec(`INSERT INTO watchlist (code, rank, doc, updated_at) VALUES (?,?,?,?)
			ON CONFLICT(code) DO UPDATE SET rank = excluded.rank, doc = excluded.doc, updated_at = excluded.updated_at`,
			it.Code, i, string(doc), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) LoadWatchlist() ([]model.WatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT doc FROM watchlist ORDER BY rank`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WatchItem
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var it model.WatchItem
		if err := json.Unmarshal([]byte(doc), &it); err != nil {
			return nil, fmt.Errorf("decode watch item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) RecordExecution(e model.Execution) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`INSERT INTO executions
		(id, timestamp, side, code, quantity, price, reason, realized_pl, doc)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.At.Unix(), string(e.Side), e.Code, e.Quantity, e.Price, e.Reason, e.RealizedPL, string(doc),
	)
	return err
}

func (r *SQLiteRecorder) ExecutionsSince(t time.Time) ([]model.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT doc FROM executions WHERE timestamp >= ? ORDER BY timestamp, id`, t.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e model.Execution
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
