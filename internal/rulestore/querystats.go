package rulestore

import (
	"fmt"
	"sync"
	"time"
)

// queryCounters holds the rolling per-domain query counts in memory
// (§4.2: "increments a rolling counter used for adaptive rule-cache
// TTL"). Counts accumulate here between calls to FlushQueryStats rather
// than hitting SQLite on every query, since record_query runs on the
// hot path of every single DNS query.
type queryCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newQueryCounters() *queryCounters {
	return &queryCounters{counts: make(map[string]int64)}
}

// RecordQuery increments domain's rolling query counter.
func (s *Store) RecordQuery(domain string) {
	s.counters.mu.Lock()
	s.counters.counts[domain]++
	s.counters.mu.Unlock()
}

// QueryCount returns domain's current in-memory rolling count, the
// input to the rule cache's adaptive TTL calculation.
func (s *Store) QueryCount(domain string) int64 {
	s.counters.mu.Lock()
	defer s.counters.mu.Unlock()
	return s.counters.counts[domain]
}

// FlushQueryStats persists accumulated in-memory counts into SQLite and
// clears them, so MostQueried and CleanupQueryStats can operate purely
// against durable state. Nothing in the application calls it on a
// timer; counts reach SQLite only when a caller invokes it.
func (s *Store) FlushQueryStats() error {
	s.counters.mu.Lock()
	pending := s.counters.counts
	s.counters.counts = make(map[string]int64, len(pending))
	s.counters.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin query stats flush: %w", err)
	}
	const upsert = `
		INSERT INTO query_stats (domain, count, last_queried)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(domain) DO UPDATE SET
			count = count + excluded.count,
			last_queried = CURRENT_TIMESTAMP
	`
	for domain, delta := range pending {
		if _, err := tx.Exec(upsert, domain, delta); err != nil {
			tx.Rollback()
			return fmt.Errorf("flush query stats for %s: %w", domain, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit query stats flush: %w", err)
	}
	return nil
}

// MostQueried returns up to limit domains ordered by durable query
// count, descending. Used to select domains to pre-warm (§4.2).
func (s *Store) MostQueried(limit int) ([]string, error) {
	rows, err := s.db.Query("SELECT domain FROM query_stats ORDER BY count DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query most-queried domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan most-queried domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// CleanupQueryStats deletes query-stat rows whose last_queried is older
// than olderThan, returning the number removed.
func (s *Store) CleanupQueryStats(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.Exec("DELETE FROM query_stats WHERE last_queried < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup query stats: %w", err)
	}
	return res.RowsAffected()
}
