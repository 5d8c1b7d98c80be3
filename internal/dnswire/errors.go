// Package dnswire implements the DNS wire-format codec: parsing queries and
// responses, and synthesizing the block/error/truncated responses that the
// flow engine writes back to clients.
//
// Standards Compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 2308: Negative Caching of DNS Queries (NXDOMAIN, NODATA, SOA MINIMUM)
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA)
//   - RFC 6891: Extension Mechanisms for DNS (EDNS0, OPT)
//
// Error Handling:
//
// All errors are wrapped with context using fmt.Errorf("...: %w", err).
package dnswire

import "errors"

// ErrFormat is the sentinel for malformed wire-format input. Wrap it with
// fmt.Errorf("context: %w", ErrFormat) to add detail.
var ErrFormat = errors.New("dns format error")
