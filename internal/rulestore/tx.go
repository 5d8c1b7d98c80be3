package rulestore

import (
	"database/sql"
	"fmt"
)

// Tx is an in-progress rule store transaction (§4.2: single-writer,
// multi-reader). Mutations take effect in SQLite immediately but the
// in-memory snapshot is only rebuilt and published on Commit, so
// concurrent readers never see a partially-applied transaction.
type Tx struct {
	store *Store
	sqlTx *sql.Tx
	done  bool
}

// BeginTx starts a new rule store transaction.
func (s *Store) BeginTx() (*Tx, error) {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin rule store tx: %w", err)
	}
	return &Tx{store: s, sqlTx: sqlTx}, nil
}

// RemoveAllFrom deletes every rule from the given source, returning the
// number removed. Used by the rule update orchestrator before
// re-adding a source's freshly-fetched rules (§4.7).
func (tx *Tx) RemoveAllFrom(source Source) (int64, error) {
	res, err := tx.sqlTx.Exec("DELETE FROM rules WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("remove rules from source %s: %w", source, err)
	}
	return res.RowsAffected()
}

// Add upserts rules, overwriting any existing rule with the same
// (domain, action) per the uniqueness invariant. Returns the number of
// rules processed.
func (tx *Tx) Add(rules []Rule) (int, error) {
	const upsert = `
		INSERT INTO rules (domain, action, match_type, priority, source, updated_at, expires_at, comment)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?, ?)
		ON CONFLICT(domain, action) DO UPDATE SET
			match_type = excluded.match_type,
			priority   = excluded.priority,
			source     = excluded.source,
			updated_at = CURRENT_TIMESTAMP,
			expires_at = excluded.expires_at,
			comment    = excluded.comment
	`
	for _, r := range rules {
		var expiresAt any
		if r.ExpiresAt != nil {
			expiresAt = r.ExpiresAt.UTC().Format("2006-01-02 15:04:05")
		}
		if _, err := tx.sqlTx.Exec(upsert, r.Domain, r.Action, r.MatchType, r.Priority, r.Source, expiresAt, r.Comment); err != nil {
			return 0, fmt.Errorf("add rule %s: %w", r.Domain, err)
		}
	}
	return len(rules), nil
}

// Commit commits the underlying SQLite transaction and, on success,
// rebuilds and atomically publishes a fresh in-memory snapshot. A
// failing commit leaves the published snapshot untouched.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("rule store tx already closed")
	}
	tx.done = true
	if err := tx.sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit rule store tx: %w", err)
	}
	return tx.store.reload()
}

// Rollback aborts the transaction. The published snapshot is untouched
// since it is only ever rebuilt from a successful commit.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if err := tx.sqlTx.Rollback(); err != nil {
		return fmt.Errorf("rollback rule store tx: %w", err)
	}
	return nil
}
