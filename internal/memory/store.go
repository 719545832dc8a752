// Package memory implements the narrative memory store: an append-only,
// sequence-numbered log of everything that has happened to the runtime.
// Events are persisted to SQLite so identity survives restarts.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// NarrativeEvent is one immutable historical record. Sequence numbers are
// strictly increasing and never reused, even after eviction.
type NarrativeEvent struct {
	Seq            int64
	Actor          string
	Action         string
	Outcome        string
	EmotionalDelta float64
	Timestamp      time.Time
}

// StorageError wraps an underlying storage fault. Storage faults are fatal
// to the runtime loop.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the append-only narrative log.
//
// Appends are serialized by a single connection plus mutex; the critical
// section is short so readers never block indefinitely on writers.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	maxEvents int
	logger    *zap.Logger
}

// Open opens (or creates) the narrative store at path. An empty path selects
// an in-memory database, useful for tests and ephemeral runs.
func Open(path string, maxEvents int, logger *zap.Logger) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &StorageError{Op: "mkdir " + filepath.Dir(path), Err: err}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}

	// Single connection avoids write contention for our scale.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, maxEvents: maxEvents, logger: logger.With(zap.String("component", "memory"))}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	// AUTOINCREMENT forbids rowid reuse, which is what keeps sequence
	// numbers monotonic across evictions.
	const schema = `
CREATE TABLE IF NOT EXISTS narrative_events (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    actor           TEXT NOT NULL,
    action          TEXT NOT NULL,
    outcome         TEXT NOT NULL,
    emotional_delta REAL NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON narrative_events(created_at);`
	if _, err := s.db.Exec(schema); err != nil {
		return &StorageError{Op: "migrate schema", Err: err}
	}
	return nil
}

// StoreEvent appends ev with the next monotonic sequence number and returns
// the stored event. Only an underlying storage fault produces an error.
func (s *Store) StoreEvent(ev NarrativeEvent) (NarrativeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	res, err := s.db.Exec(
		`INSERT INTO narrative_events (actor, action, outcome, emotional_delta, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.Actor, ev.Action, ev.Outcome, ev.EmotionalDelta, ev.Timestamp.UnixMilli(),
	)
	if err != nil {
		return NarrativeEvent{}, &StorageError{Op: "insert event", Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return NarrativeEvent{}, &StorageError{Op: "read sequence", Err: err}
	}
	ev.Seq = seq

	if err := s.evictLocked(); err != nil {
		return NarrativeEvent{}, err
	}
	return ev, nil
}

// evictLocked removes the oldest events beyond the configured cap.
// Retained events are never reordered or mutated.
func (s *Store) evictLocked() error {
	if s.maxEvents <= 0 {
		return nil
	}
	res, err := s.db.Exec(
		`DELETE FROM narrative_events WHERE seq <= (
		    SELECT seq FROM narrative_events ORDER BY seq DESC LIMIT 1 OFFSET ?
		 )`, s.maxEvents)
	if err != nil {
		return &StorageError{Op: "evict oldest", Err: err}
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("evicted oldest narrative events", zap.Int64("count", n))
	}
	return nil
}

// RecentEvents returns up to limit events, most recent first.
func (s *Store) RecentEvents(limit int) ([]NarrativeEvent, error) {
	if limit <= 0 {
		return []NarrativeEvent{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT seq, actor, action, outcome, emotional_delta, created_at
		 FROM narrative_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &StorageError{Op: "query recent", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryMemory matches query as a substring over actor, action, and outcome
// text, most recent first. No match is an empty result, not an error.
func (s *Store) QueryMemory(query string) ([]NarrativeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT seq, actor, action, outcome, emotional_delta, created_at
		 FROM narrative_events
		 WHERE actor LIKE ? OR action LIKE ? OR outcome LIKE ?
		 ORDER BY seq DESC`, pattern, pattern, pattern)
	if err != nil {
		return nil, &StorageError{Op: "query memory", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Len returns the current log length.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM narrative_events`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count events", Err: err}
	}
	return n, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]NarrativeEvent, error) {
	events := make([]NarrativeEvent, 0)
	for rows.Next() {
		var ev NarrativeEvent
		var createdAt int64
		if err := rows.Scan(&ev.Seq, &ev.Actor, &ev.Action, &ev.Outcome, &ev.EmotionalDelta, &createdAt); err != nil {
			return nil, &StorageError{Op: "scan event", Err: err}
		}
		ev.Timestamp = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate events", Err: err}
	}
	return events, nil
}
