// Package manifest parses the rule update orchestrator's wire formats
// (§4.7): a manifest of sources plus each source's rule list in one of
// json, yaml, or hosts format. Grounded in the teacher's
// internal/filtering/parser.go, which parses the analogous
// {domains, hosts, adblock} blocklist formats; this package adapts the
// same shape (format enum, per-format line/document parser, domain
// validation) to the wire formats this spec actually names.
package manifest

import (
	"fmt"
	"time"
)

// Kind identifies where a source's bytes come from.
type Kind string

const (
	KindHTTPS Kind = "https"
	KindFile  Kind = "file"
)

// Format identifies how a source's bytes are structured.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatHosts Format = "hosts"
)

// Credentials authorizes a fetch against an HTTPS source. Only one of
// BearerToken or Username/Password is expected to be set; a fetch with
// both prefers BearerToken.
type Credentials struct {
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Source describes one rule feed the orchestrator polls (§4.7
// "Sources").
type Source struct {
	Identifier     string      `json:"identifier" yaml:"identifier"`
	Kind           Kind        `json:"kind" yaml:"kind"`
	Format         Format      `json:"format" yaml:"format"`
	Location       string      `json:"location" yaml:"location"`
	Priority       int         `json:"priority" yaml:"priority"`
	UpdateInterval string      `json:"update_interval" yaml:"update_interval"`
	Enabled        bool        `json:"enabled" yaml:"enabled"`
	Credentials    Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// Interval parses UpdateInterval, defaulting to def when the field is
// empty.
func (s Source) Interval(def time.Duration) (time.Duration, error) {
	if s.UpdateInterval == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s.UpdateInterval)
	if err != nil {
		return 0, fmt.Errorf("source %s: invalid update_interval %q: %w", s.Identifier, s.UpdateInterval, err)
	}
	return d, nil
}

// Manifest is a list of sources plus any sub-manifests to transitively
// include (§4.7: "may transitively reference included sub-manifests").
type Manifest struct {
	Sources []Source `json:"sources" yaml:"sources"`
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
}

// WireRule is one entry in a json/yaml source's rule list.
type WireRule struct {
	Domain   string `json:"domain" yaml:"domain"`
	Action   string `json:"action" yaml:"action"`
	Wildcard bool   `json:"wildcard,omitempty" yaml:"wildcard,omitempty"`
	Comment  string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// RuleList is the top-level document a json/yaml source parses into.
type RuleList struct {
	Rules []WireRule `json:"rules" yaml:"rules"`
}
