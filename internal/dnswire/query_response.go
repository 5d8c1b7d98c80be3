package dnswire

import (
	"errors"
	"fmt"
)

// Query is the decoded, pipeline-level view of an incoming DNS query
// (data model §3): a canonicalized qname plus the fields the flow engine
// needs to route and answer it.
type Query struct {
	TransactionID    uint16
	Opcode           uint16
	RecursionDesired bool
	QName            string
	QType            RecordType
	raw              Packet
}

// Packet exposes the fully-parsed wire packet backing this Query, for
// callers (such as the upstream forwarder) that need the original question
// section verbatim.
func (q Query) Packet() Packet { return q.raw }

// Response is the decoded, pipeline-level view of an upstream answer
// (data model §3).
type Response struct {
	TransactionID uint16
	RCode         RCode
	TTL           uint32 // minimum across answer RRs
	QName         string
	QType         RecordType
	Answers       []string // address strings for A/AAAA, else opaque RR names
}

// DecodeQuery validates and decodes a single-question DNS query: QR must be
// 0 (a query, not a response) and QDCOUNT must be exactly 1. The qname is
// canonicalized: lowercase, trailing dot removed, length <= 253, every
// label <= 63 bytes (the label bound is enforced during wire decode).
func DecodeQuery(raw []byte) (Query, error) {
	if len(raw) > MaxIncomingMessageSize {
		return Query{}, fmt.Errorf("%w: message too large", ErrFormat)
	}
	p, err := ParsePacket(raw)
	if err != nil {
		return Query{}, err
	}
	if IsResponse(p.Header.Flags) {
		return Query{}, fmt.Errorf("%w: QR flag set on query", ErrFormat)
	}
	if err := validateSectionCounts(p.Header); err != nil {
		return Query{}, err
	}
	if len(p.Questions) != 1 {
		return Query{}, fmt.Errorf("%w: expected exactly one question", ErrFormat)
	}
	q := p.Questions[0]
	qname := NormalizeName(q.Name)
	if len(qname) > 253 {
		return Query{}, fmt.Errorf("%w: qname exceeds 253 bytes", ErrFormat)
	}
	return Query{
		TransactionID:    p.Header.ID,
		Opcode:           Opcode(p.Header.Flags),
		RecursionDesired: p.Header.Flags&RDFlag != 0,
		QName:            qname,
		QType:            RecordType(q.Type),
		raw:              p,
	}, nil
}

func validateSectionCounts(h Header) error {
	qd, an, ns, ar := int(h.QDCount), int(h.ANCount), int(h.NSCount), int(h.ARCount)
	if qd > MaxQuestions {
		return fmt.Errorf("%w: too many questions", ErrFormat)
	}
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return fmt.Errorf("%w: too many resource records", ErrFormat)
	}
	if an+ns+ar > MaxTotalRR {
		return fmt.Errorf("%w: too many total resource records", ErrFormat)
	}
	return nil
}

// DecodeResponse decodes a response's header and question, together with
// the minimum TTL across answer RRs and an address/name string per answer.
// Only A/AAAA RDATA is decoded to an address string; everything else is
// recorded only by its record name, which is all the do-not-cache policy
// (response cache §4.4) needs.
func DecodeResponse(raw []byte) (Response, error) {
	p, err := ParsePacket(raw)
	if err != nil {
		return Response{}, err
	}
	if len(p.Questions) == 0 {
		return Response{}, errors.New("response has no question section")
	}
	q := p.Questions[0]

	resp := Response{
		TransactionID: p.Header.ID,
		RCode:         RCodeFromFlags(p.Header.Flags),
		QName:         NormalizeName(q.Name),
		QType:         RecordType(q.Type),
	}

	minTTL := uint32(0)
	haveTTL := false
	for _, a := range p.Answers {
		if !haveTTL || a.TTL < minTTL {
			minTTL = a.TTL
			haveTTL = true
		}
		if addr, ok := a.IPv4(); ok {
			resp.Answers = append(resp.Answers, addr)
			continue
		}
		if addr, ok := a.IPv6(); ok {
			resp.Answers = append(resp.Answers, addr)
			continue
		}
		resp.Answers = append(resp.Answers, a.Name)
	}
	resp.TTL = minTTL
	return resp, nil
}
