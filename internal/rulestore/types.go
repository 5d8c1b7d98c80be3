// Package rulestore implements the durable, snapshot-isolated rule store
// (§4.2): block/allow domain rules with wildcard precedence, backed by
// SQLite for durability and an in-memory immutable snapshot for
// lock-free reads.
//
// Grounded in the teacher's internal/database package (SQLite via
// modernc.org/sqlite, migrations via golang-migrate/migrate/v4) for
// persistence, and internal/filtering/trie.go's DomainTrie for the
// wildcard matching structure.
package rulestore

import "time"

// Action is a rule's effect: Block or Allow. Unlike rulecache.Action,
// there is no NoRule value here — a Rule always has one of these two
// actions; NoRule only describes the absence of a matching Rule.
type Action int

const (
	Block Action = iota
	Allow
)

func (a Action) String() string {
	if a == Allow {
		return "allow"
	}
	return "block"
}

// MatchType distinguishes an exact-domain rule from a wildcard rule.
type MatchType int

const (
	Exact MatchType = iota
	Wildcard
)

// Source identifies where a rule came from, used by remove_all_from to
// replace one source's rules without touching others.
type Source int

const (
	SourceUser Source = iota
	SourceManifest
	SourceRemote
	SourceSystem
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceManifest:
		return "manifest"
	case SourceRemote:
		return "remote"
	case SourceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Rule is a single block/allow rule (data model §3). Domain is
// canonicalized; wildcard domains are stored with their "*." prefix
// still attached to Domain, matching the wire manifest format (§6).
type Rule struct {
	Domain     string
	Action     Action
	MatchType  MatchType
	Priority   int
	Source     Source
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
	Comment    string
}

// wildcardSuffix strips the "*." prefix from a wildcard rule's domain,
// returning the suffix it matches against (e.g. "*.ads.example.com" ->
// "ads.example.com"). Returns ("", false) for non-wildcard rules.
func (r Rule) wildcardSuffix() (string, bool) {
	if r.MatchType != Wildcard || len(r.Domain) < 3 || r.Domain[0] != '*' || r.Domain[1] != '.' {
		return "", false
	}
	return r.Domain[2:], true
}
