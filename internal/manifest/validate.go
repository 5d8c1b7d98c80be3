package manifest

import (
	"strings"

	"github.com/jroosing/hydraflow/internal/dnswire"
)

// isValidDomain performs the same basic RFC 1035 label validation as
// the teacher's filtering.Parser.isValidDomain: a dot-separated name
// whose labels are 1-63 alphanumeric-or-hyphen characters, starting and
// ending alphanumeric.
func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}

	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if !isAlphaNum(label[0]) || !isAlphaNum(label[len(label)-1]) {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !isAlphaNum(c) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// normalizeWireDomain strips a wildcard prefix before validating, then
// restores it, so "*.ads.example.com" validates against its suffix
// rather than failing on the leading "*".
func normalizeWireDomain(domain string) (name string, wildcard bool) {
	domain = dnswire.NormalizeName(strings.TrimSpace(domain))
	if strings.HasPrefix(domain, "*.") {
		return domain[2:], true
	}
	return domain, false
}
