package rulestore

import (
	"database/sql"
	"embed"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable rule store (§4.2). It owns a SQLite connection
// for persistence and an atomically-swapped immutable snapshot for
// lock-free reads, following the teacher's internal/database.DB for the
// SQLite setup and internal/filtering's trie-based wildcard matching for
// the in-memory side.
type Store struct {
	db       *sql.DB
	snapshot atomic.Pointer[snapshot]
	counters *queryCounters
}

// Open opens or creates a SQLite-backed rule store at path, running
// migrations and loading the initial snapshot. A failing Open must
// prevent the engine from starting (§4.2 failure modes).
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{db: conn, counters: newQueryCounters()}
	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate rule store: %w", err)
	}
	if err := s.reload(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load rule store snapshot: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the backing database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// reload re-reads every rule from SQLite and atomically publishes a
// fresh snapshot. Readers holding the previous snapshot pointer keep
// working against it until they next load the pointer (§4.2: "readers
// holding the old snapshot remain valid").
func (s *Store) reload() error {
	rows, err := s.db.Query(`SELECT domain, action, match_type, priority, source, updated_at, expires_at, comment FROM rules`)
	if err != nil {
		return fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		var updatedAt string
		var expiresAt, comment sql.NullString
		if err := rows.Scan(&r.Domain, &r.Action, &r.MatchType, &r.Priority, &r.Source, &updatedAt, &expiresAt, &comment); err != nil {
			return fmt.Errorf("scan rule: %w", err)
		}
		r.UpdatedAt = parseSQLiteTime(updatedAt)
		if expiresAt.Valid {
			t := parseSQLiteTime(expiresAt.String)
			r.ExpiresAt = &t
		}
		r.Comment = comment.String
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rules: %w", err)
	}

	s.snapshot.Store(buildSnapshot(rules))
	return nil
}

// parseSQLiteTime parses the format SQLite's CURRENT_TIMESTAMP produces.
// A parse failure returns the zero time rather than erroring the whole
// reload, since a malformed timestamp shouldn't make every rule
// unreadable.
func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RuleFor returns the best match under the precedence algorithm (§4.2),
// or (Rule{}, Block, false) if nothing matches — NoRule in the caller's
// terms.
func (s *Store) RuleFor(domain string) (Rule, Action, bool) {
	return s.snapshot.Load().resolve(domain)
}

// AllMatching returns every rule matching domain, in precedence order.
func (s *Store) AllMatching(domain string) []Rule {
	return s.snapshot.Load().allMatching(domain)
}

// Vacuum reclaims space in the backing SQLite file.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("vacuum rule store: %w", err)
	}
	return nil
}

// RuleCount returns the number of rules in the current snapshot,
// reported by the administrative "getStatus" command (§6).
func (s *Store) RuleCount() int {
	return s.snapshot.Load().count()
}
