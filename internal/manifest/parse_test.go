package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydraflow/internal/rulestore"
)

func TestParseRulesJSON(t *testing.T) {
	doc := []byte(`{"rules":[
		{"domain":"ads.example.com","action":"block"},
		{"domain":"*.tracker.example.com","action":"block"},
		{"domain":"safe.example.com","action":"allow"}
	]}`)

	rules, err := ParseRules(doc, FormatJSON, rulestore.SourceManifest, 5, true)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "ads.example.com", rules[0].Domain)
	assert.Equal(t, rulestore.Block, rules[0].Action)
	assert.Equal(t, rulestore.Exact, rules[0].MatchType)
	assert.Equal(t, 5, rules[0].Priority)
	assert.Equal(t, rulestore.SourceManifest, rules[0].Source)

	assert.Equal(t, "*.tracker.example.com", rules[1].Domain)
	assert.Equal(t, rulestore.Wildcard, rules[1].MatchType)

	assert.Equal(t, rulestore.Allow, rules[2].Action)
}

func TestParseRulesJSONSkipsInvalidDomainNonStrict(t *testing.T) {
	doc := []byte(`{"rules":[{"domain":"not a domain","action":"block"},{"domain":"good.example.com","action":"block"}]}`)

	rules, err := ParseRules(doc, FormatJSON, rulestore.SourceManifest, 0, false)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "good.example.com", rules[0].Domain)
}

func TestParseRulesJSONStrictFailsOnInvalidDomain(t *testing.T) {
	doc := []byte(`{"rules":[{"domain":"not a domain","action":"block"}]}`)

	_, err := ParseRules(doc, FormatJSON, rulestore.SourceManifest, 0, true)
	assert.Error(t, err)
}

func TestParseRulesYAML(t *testing.T) {
	doc := []byte("rules:\n  - domain: ads.example.com\n    action: block\n")

	rules, err := ParseRules(doc, FormatYAML, rulestore.SourceManifest, 1, true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "ads.example.com", rules[0].Domain)
}

func TestParseRulesHosts(t *testing.T) {
	doc := []byte("# header comment\n0.0.0.0 ads.example.com\n127.0.0.1 tracker.example.com\n0.0.0.0 localhost\nnot a line\n")

	rules, err := ParseRules(doc, FormatHosts, rulestore.SourceManifest, 2, false)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "ads.example.com", rules[0].Domain)
	assert.Equal(t, rulestore.Block, rules[0].Action)
	assert.Equal(t, "tracker.example.com", rules[1].Domain)
}

func TestParseRulesHostsStrictRejectsMalformedLine(t *testing.T) {
	doc := []byte("not a line\n")
	_, err := ParseRules(doc, FormatHosts, rulestore.SourceManifest, 0, true)
	assert.Error(t, err)
}

func TestParseRulesUnknownFormat(t *testing.T) {
	_, err := ParseRules([]byte("x"), Format("xml"), rulestore.SourceManifest, 0, false)
	assert.Error(t, err)
}

func TestIsValidDomain(t *testing.T) {
	assert.True(t, isValidDomain("example.com"))
	assert.True(t, isValidDomain("sub.example.com"))
	assert.False(t, isValidDomain(""))
	assert.False(t, isValidDomain("nodot"))
	assert.False(t, isValidDomain("-bad.example.com"))
}

func TestNormalizeWireDomainStripsWildcard(t *testing.T) {
	name, wildcard := normalizeWireDomain("*.Example.COM")
	assert.Equal(t, "example.com", name)
	assert.True(t, wildcard)

	name, wildcard = normalizeWireDomain("Example.com.")
	assert.Equal(t, "example.com", name)
	assert.False(t, wildcard)
}
