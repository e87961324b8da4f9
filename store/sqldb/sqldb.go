/*
Package sqldb provides a relational implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore and auth.UserStore on top of sqlx. The same
  SQL runs on SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq); queries
  are written with ? placeholders and rebound for the active driver.

INTERFACES IMPLEMENTED:
  generic.Store:    Entries, payments, settings, grouped summaries
  generic.AuditLog: Append-only audit trail
  generic.TxStore:  WithTx over *sqlx.Tx
  auth.UserStore:   Accounts for login

KEY TABLES:
  ledger_entries: Contributions and penalties (one row per entry)
  payments:       Append-only payment history
  audit_log:      Who did what when
  settings:       Single JSON document
  users:          Accounts with bcrypt hashes

OPTIMISTIC CONCURRENCY:
  Entry updates run "UPDATE ... WHERE id = ? AND version = ?". Zero rows
  affected on an existing id means another writer got there first and the
  update fails with generic.ErrConcurrentModification.

STORAGE FORMATS:
  - Decimals as TEXT (exact round-trip through shopspring/decimal)
  - Times as fixed-width UTC TEXT so string comparison orders correctly

CONCURRENCY:
  Transactions are serialised with a mutex. SQLite allows one writer at a
  time anyway; on PostgreSQL the version check is what guarantees safety.

USAGE:
  store, err := sqldb.New("sqlite3", "./data/pta.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pta-hub/dues-engine/generic"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.TxStore and auth.UserStore.
type Store struct {
	querier
	db *sqlx.DB
	mu sync.Mutex
}

// New opens a database and migrates its schema. For SQLite, ":memory:"
// gives a private in-memory database.
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// Every pooled connection to ":memory:" would be a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{querier: querier{x: db}, db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string { return s.db.DriverName() }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return s[:i]
	}
	return s
}

// schema is portable between SQLite and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		category TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		reference_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		adjustment TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		balance TEXT NOT NULL,
		due_date TEXT,
		is_paid BOOLEAN NOT NULL,
		is_overdue BOOLEAN NOT NULL,
		days_overdue INTEGER NOT NULL,
		is_waived BOOLEAN NOT NULL,
		waived_at TEXT,
		waived_by TEXT NOT NULL DEFAULT '',
		waiver_reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_subject ON ledger_entries(subject_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_kind_status ON ledger_entries(kind, status)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_due ON ledger_entries(due_date)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_reference ON ledger_entries(reference_id)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		recorded_by TEXT NOT NULL DEFAULT '',
		paid_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_entry ON payments(entry_id, paid_at)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		entry_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entry ON audit_log(entry_id, ts)`,

	`CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY,
		doc_json TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&querier{x: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
