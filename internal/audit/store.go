// Package audit persists safety arbiter decisions to SQLite and exports them
// as compressed JSONL.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
	"github.com/signalsfoundry/rail-control-simulator/safety"
)

// DefaultBuffer is the number of events Record can queue before dropping.
const DefaultBuffer = 4096

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrClosed = errors.New("audit: store closed")

// Store is a safety.AuditSink backed by SQLite. Record only enqueues; a
// single writer goroutine owns the connection and batches inserts.
type Store struct {
	db *sql.DB

	// mu guards sends on ch against Close.
	mu   sync.RWMutex
	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  bool
	dropped atomic.Uint64

	log    logging.Logger
	onDrop func()

	commitEvery   int
	commitMaxWait time.Duration
}

type req struct {
	ev   safety.AuditEvent
	done chan error // non-nil for flush requests
}

// Option configures a Store.
type Option func(*Store)

// WithBuffer sets the queue length.
func WithBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.ch = make(chan req, n)
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDropHook is called once for every event dropped because the queue was
// full. It runs on the caller of Record and must not block.
func WithDropHook(fn func()) Option {
	return func(s *Store) { s.onDrop = fn }
}

// Open creates or opens the audit database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:            db,
		ch:            make(chan req, DefaultBuffer),
		log:           logging.Noop(),
		commitEvery:   256,
		commitMaxWait: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("audit: %s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			train_id TEXT NOT NULL,
			sim_time TEXT NOT NULL,
			kind TEXT NOT NULL,
			holder TEXT NOT NULL,
			reasons TEXT NOT NULL,
			speed REAL NOT NULL,
			doors TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_train_time ON audit_events(train_id, sim_time);`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return fmt.Errorf("audit: init schema: %w", err)
		}
	}
	return nil
}

// Record queues ev. It never blocks: when the queue is full the event is
// dropped and counted.
func (s *Store) Record(_ context.Context, ev safety.AuditEvent) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{ev: ev}:
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Flush waits until everything queued before the call is committed.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ch <- req{done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, commits and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO audit_events(id,train_id,sim_time,kind,holder,reasons,speed,doors,raw_json,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error(ctx, "audit insert statement unavailable", logging.Err(err))
	} else {
		defer insert.Close()
	}

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
		lastErr    error
	)

	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		if err != nil {
			s.log.Warn(ctx, "audit commit failed", logging.Err(err))
		}
		return err
	}

	timer := time.NewTicker(s.commitMaxWait)
	defer timer.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				_ = commit()
				return
			}
			if r.done != nil {
				err := commit()
				if err == nil {
					err = lastErr
				}
				lastErr = nil
				r.done <- err
				continue
			}
			if insert == nil {
				continue
			}
			if tx == nil {
				txx, err := s.db.BeginTx(ctx, nil)
				if err != nil {
					lastErr = err
					s.log.Warn(ctx, "audit begin failed", logging.Err(err))
					continue
				}
				tx = txx
			}
			if err := s.insert(tx.Stmt(insert), r.ev); err != nil {
				lastErr = err
				s.log.Warn(ctx, "audit insert failed",
					logging.String("audit_id", r.ev.ID.String()),
					logging.Err(err),
				)
				continue
			}
			opCount++
			if opCount >= s.commitEvery || time.Since(lastCommit) >= s.commitMaxWait {
				_ = commit()
			}
		case <-timer.C:
			_ = commit()
		}
	}
}

func (s *Store) insert(stmt *sql.Stmt, ev safety.AuditEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	reasons, err := json.Marshal(ev.Reasons)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		ev.ID.String(),
		ev.TrainID,
		ev.SimTime.UTC().Format(timeLayout),
		string(ev.Kind),
		ev.Holder,
		string(reasons),
		ev.Vital.Speed,
		ev.Vital.Doors.String(),
		string(raw),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Query filters List results. Zero values match everything.
type Query struct {
	TrainID string
	Kind    safety.AuditKind
	Limit   int
}

// List returns committed events ordered by simulated time, then insertion.
func (s *Store) List(ctx context.Context, q Query) ([]safety.AuditEvent, error) {
	var out []safety.AuditEvent
	err := s.each(ctx, q, func(raw []byte) error {
		var ev safety.AuditEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func (s *Store) each(ctx context.Context, q Query, fn func(raw []byte) error) error {
	query := `SELECT raw_json FROM audit_events WHERE (? = '' OR train_id = ?) AND (? = '' OR kind = ?) ORDER BY sim_time, rowid`
	args := []any{q.TrainID, q.TrainID, string(q.Kind), string(q.Kind)}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		if err := fn([]byte(raw)); err != nil {
			return err
		}
	}
	return rows.Err()
}
