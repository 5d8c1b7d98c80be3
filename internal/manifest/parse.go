package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/jroosing/hydraflow/internal/rulestore"
)

// ParseRules parses data as format into rule store rules, stamping
// every rule with source and priority. A domain that fails validation
// is skipped rather than aborting the whole source, matching the
// teacher's parser.go behavior of dropping one bad line instead of
// failing the whole blocklist; strict mode turns that skip into an
// error instead (§4.7 step 2: "must validate each domain and skip
// invalid entries in non-strict mode").
func ParseRules(data []byte, format Format, source rulestore.Source, priority int, strict bool) ([]rulestore.Rule, error) {
	switch format {
	case FormatJSON:
		return parseWireRules(data, json.Unmarshal, source, priority, strict)
	case FormatYAML:
		return parseWireRules(data, yaml.Unmarshal, source, priority, strict)
	case FormatHosts:
		return parseHosts(data, source, priority, strict)
	default:
		return nil, fmt.Errorf("manifest: unknown source format %q", format)
	}
}

func parseWireRules(data []byte, unmarshal func([]byte, any) error, source rulestore.Source, priority int, strict bool) ([]rulestore.Rule, error) {
	var doc RuleList
	if err := unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: decode rule list: %w", err)
	}

	now := time.Now()
	rules := make([]rulestore.Rule, 0, len(doc.Rules))
	for _, wr := range doc.Rules {
		name, wildcard := normalizeWireDomain(wr.Domain)
		if !isValidDomain(name) {
			if strict {
				return nil, fmt.Errorf("manifest: invalid domain %q", wr.Domain)
			}
			continue
		}

		action, err := parseAction(wr.Action)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}

		domain := name
		matchType := rulestore.Exact
		if wr.Wildcard || wildcard {
			matchType = rulestore.Wildcard
			domain = "*." + name
		}

		rules = append(rules, rulestore.Rule{
			Domain:    domain,
			Action:    action,
			MatchType: matchType,
			Priority:  priority,
			Source:    source,
			UpdatedAt: now,
			Comment:   wr.Comment,
		})
	}
	return rules, nil
}

func parseAction(s string) (rulestore.Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return rulestore.Block, nil
	case "allow":
		return rulestore.Allow, nil
	default:
		return 0, fmt.Errorf("manifest: unknown rule action %q", s)
	}
}

// parseHosts parses a hosts(5)-style file: "<ip> <domain>" per line,
// blocking every domain it names at exact match. Ported from the
// teacher's parseHostsLine, dropping the adblock/plain-domains branches
// this spec's format set doesn't name.
func parseHosts(data []byte, source rulestore.Source, priority int, strict bool) ([]rulestore.Rule, error) {
	now := time.Now()
	var rules []rulestore.Rule

	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			if strict {
				return nil, fmt.Errorf("manifest: hosts line %d: expected \"<ip> <domain>\"", lineNo)
			}
			continue
		}
		ip := fields[0]
		if ip != "0.0.0.0" && ip != "127.0.0.1" {
			if strict {
				return nil, fmt.Errorf("manifest: hosts line %d: unsupported address %q", lineNo, ip)
			}
			continue
		}

		name, _ := normalizeWireDomain(fields[1])
		if !isValidDomain(name) || name == "localhost" || name == "localhost.localdomain" {
			if strict {
				return nil, fmt.Errorf("manifest: hosts line %d: invalid domain %q", lineNo, fields[1])
			}
			continue
		}

		rules = append(rules, rulestore.Rule{
			Domain:    name,
			Action:    rulestore.Block,
			MatchType: rulestore.Exact,
			Priority:  priority,
			Source:    source,
			UpdatedAt: now,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: read hosts source: %w", err)
	}
	return rules, nil
}
