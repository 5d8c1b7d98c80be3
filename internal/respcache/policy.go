package respcache

import (
	"net"
	"strings"
	"time"

	"github.com/jroosing/hydraflow/internal/dnswire"
)

// MinTTL and MaxTTL clamp the cached TTL regardless of what the wire
// response carries (§4.4: "TTL clamped to [30s, 300s] regardless of wire
// TTL").
const (
	MinTTL = 30 * time.Second
	MaxTTL = 300 * time.Second
)

// DefaultVPNCIDRs are the VPN/carrier-NAT ranges a response is never
// cached from or through, unless overridden by configuration.
var DefaultVPNCIDRs = mustParseCIDRs(
	"100.64.0.0/10",
	"fc00::/7",
	"fd00::/8",
	"fe80::/10",
)

// DefaultAuthSuffixes are identity-provider domains whose responses are
// never cached by default, since a stale cached answer can misdirect an
// authentication flow.
var DefaultAuthSuffixes = []string{
	"okta.com",
	"oktapreview.com",
	"oktacdn.com",
	"twingate.com",
	"okta-emea.com",
	"okta-gov.com",
	"okta.mil",
	"kerberos.okta.com",
	"mtls.okta.com",
	"awsglobalaccelerator.com",
	"digicert.com",
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("respcache: invalid default CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// Policy controls the do-not-cache rules of §4.4. The zero value is
// usable and applies only the built-in defaults.
type Policy struct {
	// VPNCIDRs are checked against the resolved upstream address and
	// every IPv4 answer. Defaults to DefaultVPNCIDRs when nil.
	VPNCIDRs []*net.IPNet
	// AuthSuffixes are qname suffixes that are never cached. Defaults to
	// DefaultAuthSuffixes when nil.
	AuthSuffixes []string
	// BypassSuffixes are user-configured additions to AuthSuffixes.
	BypassSuffixes []string
	// NeverDomains forces a "never cache" decision for specific qnames,
	// regardless of any other rule.
	NeverDomains map[string]bool
	// Disabled globally turns off caching.
	Disabled bool
}

func (p Policy) vpnCIDRs() []*net.IPNet {
	if p.VPNCIDRs != nil {
		return p.VPNCIDRs
	}
	return DefaultVPNCIDRs
}

func (p Policy) authSuffixes() []string {
	suffixes := DefaultAuthSuffixes
	if p.AuthSuffixes != nil {
		suffixes = p.AuthSuffixes
	}
	if len(p.BypassSuffixes) == 0 {
		return suffixes
	}
	all := make([]string, 0, len(suffixes)+len(p.BypassSuffixes))
	all = append(all, suffixes...)
	all = append(all, p.BypassSuffixes...)
	return all
}

func (p Policy) inVPNRange(ip net.IP) bool {
	for _, n := range p.vpnCIDRs() {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// InVPNRange reports whether ip falls inside one of the policy's VPN
// CIDRs. Exported so the flow engine can reuse the same ranges to
// recognize a client endpoint as a VPN-side resolver for chain
// preservation (§4.5 step 7).
func (p Policy) InVPNRange(ip net.IP) bool {
	return p.inVPNRange(ip)
}

func hasSuffix(qname string, suffixes []string) bool {
	qname = strings.ToLower(strings.TrimSuffix(qname, "."))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSuffix(s, "."))
		if qname == s || strings.HasSuffix(qname, "."+s) {
			return true
		}
	}
	return false
}

// ShouldCache evaluates the do-not-cache policy against a decoded
// response and the resolved address of the upstream server that
// answered it. It returns false with a reason string the caller can log
// when any rule inhibits caching.
func (p Policy) ShouldCache(pkt dnswire.Packet, qname string, upstream net.IP) (bool, string) {
	if p.Disabled {
		return false, "caching disabled by policy"
	}
	if p.NeverDomains[strings.ToLower(strings.TrimSuffix(qname, "."))] {
		return false, "domain forced to never-cache"
	}
	if dnswire.RCodeFromFlags(pkt.Header.Flags) != dnswire.RCodeNoError {
		return false, "response is not NOERROR"
	}
	if upstream != nil && p.inVPNRange(upstream) {
		return false, "upstream server is in a VPN resolver range"
	}
	for _, a := range pkt.Answers {
		if addr, ok := a.IPv4(); ok {
			if ip := net.ParseIP(addr); ip != nil && p.inVPNRange(ip) {
				return false, "answer address falls inside a VPN range"
			}
		}
	}
	if hasSuffix(qname, p.authSuffixes()) {
		return false, "qname matches an auth-domain suffix"
	}
	return true, ""
}

// ComputeTTL derives the cache TTL for a response per §4.4: the minimum
// TTL across answer records for a positive response, or the SOA MINIMUM
// field for a negative response, clamped to [MinTTL, MaxTTL]. Returns
// false if no usable TTL could be derived (the caller should not cache).
func ComputeTTL(pkt dnswire.Packet) (time.Duration, bool) {
	var seconds uint32
	haveTTL := false

	if len(pkt.Answers) > 0 {
		for _, a := range pkt.Answers {
			if a.TTL == 0 {
				continue
			}
			if !haveTTL || a.TTL < seconds {
				seconds = a.TTL
				haveTTL = true
			}
		}
	} else {
		for _, rr := range pkt.Authorities {
			if min, ok := dnswire.SOAMinimum(rr); ok {
				seconds = min
				haveTTL = true
				break
			}
		}
	}

	if !haveTTL {
		return 0, false
	}
	ttl := time.Duration(seconds) * time.Second
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	return ttl, true
}
