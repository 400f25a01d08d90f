package switchpoint

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file
	Path string `yaml:"path"`

	// CacheSize is the SQLite page cache size in KB (default: 2000 = 2MB)
	CacheSize int `yaml:"cache_size"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string `yaml:"synchronous"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxConnections is the max number of database connections
	MaxConnections int `yaml:"max_connections"`
}

// DefaultSQLiteStoreConfig returns default configuration.
func DefaultSQLiteStoreConfig() SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:           "switchpoint.db",
		CacheSize:      2000,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLiteStore implements EventStore on a SQLite database, so event history
// stays inspectable with standard SQLite tools.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.RWMutex
	closed bool

	// Prepared statements for common operations
	insertStmt *sql.Stmt
	scanStmt   *sql.Stmt
	countStmt  *sql.Stmt
}

// NewSQLiteStore opens (and if needed creates) a SQLite-backed event store.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "switchpoint.db"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 2000
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	// Build connection string with pragmas
	dsn := fmt.Sprintf("%s?_cache_size=%d&_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.CacheSize, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &SQLiteStore{
		db:     db,
		config: config,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema.
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			count INTEGER NOT NULL DEFAULT 1,
			label TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
		CREATE INDEX IF NOT EXISTS idx_events_label ON events(label);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// prepareStatements prepares common SQL statements.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO events (ts, duration_ns, count, label)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.scanStmt, err = s.db.Prepare(`
		SELECT ts, duration_ns, count, label FROM events
		WHERE ts >= ? AND ts < ?
		ORDER BY ts, id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare scan statement: %w", err)
	}

	s.countStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM events`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return nil
}

// Append stores a batch of events in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, events []Event) error {
	if err := validateEvents(events); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.insertStmt)
	for _, ev := range events {
		count := ev.Count
		if count == 0 {
			count = 1
		}
		_, err = stmt.ExecContext(ctx, ev.Time.UnixNano(), int64(ev.Duration), count, ev.Label)
		if err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	return tx.Commit()
}

// Scan returns events in [from, to), ascending by time.
func (s *SQLiteStore) Scan(ctx context.Context, from, to time.Time) ([]Event, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	lo := int64(math.MinInt64)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	hi := int64(math.MaxInt64)
	if !to.IsZero() {
		hi = to.UnixNano()
	}

	rows, err := s.scanStmt.QueryContext(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ts, durationNS, count int64
		var label string
		if err := rows.Scan(&ts, &durationNS, &count, &label); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		events = append(events, Event{
			Time:     time.Unix(0, ts).UTC(),
			Duration: time.Duration(durationNS),
			Count:    int(count),
			Label:    label,
		})
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.mu.RUnlock()

	var n int64
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close releases prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.scanStmt != nil {
		s.scanStmt.Close()
	}
	if s.countStmt != nil {
		s.countStmt.Close()
	}

	return s.db.Close()
}
