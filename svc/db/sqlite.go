package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"penne/pkg/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is the single-node alternative to the Mongo store. Same
// contract; the OR expiry filter becomes plain SQL.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		title TEXT NOT NULL,
		contents TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_user_created ON pastes(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON pastes(expires_at);
	`
	_, err = s.db.Exec(query)
	return err
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.StoredPaste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT id, user_id, created_at, expires_at, title, contents FROM pastes WHERE id = ?`
	var (
		sp        domain.StoredPaste
		expiresAt sql.NullTime
		contents  sql.NullString
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&sp.PasteID, &sp.UserID, &sp.CreatedAt, &expiresAt, &sp.Title, &contents,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		sp.ExpiresAt = &t
	}
	if contents.Valid {
		c := contents.String
		sp.Contents = &c
	}
	return &sp, nil
}

func (s *SQLite) Create(ctx context.Context, id string, sp *domain.StoredPaste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var expiresAt interface{}
	if sp.ExpiresAt != nil {
		expiresAt = *sp.ExpiresAt
	}
	var contents interface{}
	if sp.Contents != nil {
		contents = *sp.Contents
	}
	q := `INSERT INTO pastes (id, user_id, created_at, expires_at, title, contents) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q, id, sp.UserID, sp.CreatedAt, expiresAt, sp.Title, contents)
	s.recordError(err)
	return errors.Wrap(err, "db create")
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM pastes WHERE id = ?`
	_, err := s.db.ExecContext(queryCtx, q, id)
	s.recordError(err)
	return errors.Wrap(err, "delete paste")
}

func (s *SQLite) ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.StoredPaste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, user_id, created_at, title FROM pastes
	WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
	ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q, userID, now)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "query pastes")
	}
	defer rows.Close()
	var out []domain.StoredPaste
	for rows.Next() {
		var sp domain.StoredPaste
		if err := rows.Scan(&sp.PasteID, &sp.UserID, &sp.CreatedAt, &sp.Title); err != nil {
			return nil, errors.Wrap(err, "scan paste")
		}
		out = append(out, sp)
	}
	return out, errors.Wrap(rows.Err(), "stream pastes")
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	// Checkpoint so the WAL does not outlive the process.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
