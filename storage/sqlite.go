package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tasklist/domain"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS task_slots (
	slot_key   TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLiteSlot stores the serialized collection as one row of a local SQLite
// database. The upsert is a single statement, so a reader sees either the old
// or the new payload.
type SQLiteSlot struct {
	db  *sql.DB
	key string
	now func() time.Time
}

// OpenSQLite opens the database at path and limits it to one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteSlot ensures the schema exists and returns a slot stored under key.
func NewSQLiteSlot(ctx context.Context, db *sql.DB, key string) (*SQLiteSlot, error) {
	if db == nil {
		return nil, errors.New("storage.NewSQLiteSlot: db is nil")
	}
	if key == "" {
		key = DefaultSlotKey
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create task_slots table: %w", err)
	}
	return &SQLiteSlot{db: db, key: key, now: time.Now}, nil
}

func (s *SQLiteSlot) Save(ctx context.Context, tasks []domain.Task) error {
	data, err := encodeTasks(tasks)
	if err != nil {
		return domain.NewPersistenceError("save", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_slots (slot_key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(slot_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.key, string(data), s.now().UTC())
	if err != nil {
		return domain.NewPersistenceError("save", unavailable(err))
	}
	return nil
}

func (s *SQLiteSlot) Load(ctx context.Context) ([]domain.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM task_slots WHERE slot_key = ?`, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.Task{}, nil
	}
	if err != nil {
		return nil, domain.NewPersistenceError("load", unavailable(err))
	}
	tasks, err := decodeTasks([]byte(data))
	if err != nil {
		return nil, domain.NewPersistenceError("load", err)
	}
	return tasks, nil
}
