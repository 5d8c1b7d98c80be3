package dnswire

// Limits on incoming messages, guarding against resource-exhaustion from
// hostile or malformed input.
const (
	MaxIncomingMessageSize = 4096
	MaxQuestions           = 4
	MaxRRPerSection        = 100
	MaxTotalRR             = 200
)

// Packet is a complete DNS message (RFC 1035 Section 4): a header and the
// four sections. It is the general wire-level representation used when
// validating upstream responses and rewriting TTLs/transaction IDs; the
// Query/Response types in query_response.go are the decoded, pipeline-level
// view described by the data model.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Marshal serializes the packet to wire format.
func (p Packet) Marshal() ([]byte, error) {
	h := Header{
		ID:      p.Header.ID,
		Flags:   p.Header.Flags,
		QDCount: uint16(len(p.Questions)),
		ANCount: uint16(len(p.Answers)),
		NSCount: uint16(len(p.Authorities)),
		ARCount: uint16(len(p.Additionals)),
	}

	estimated := HeaderSize + len(p.Questions)*50 + (len(p.Answers)+len(p.Authorities)+len(p.Additionals))*100
	out := make([]byte, 0, estimated)
	out = append(out, h.Marshal()...)
	for _, q := range p.Questions {
		qb, err := q.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, qb...)
	}
	for _, section := range [][]Record{p.Answers, p.Authorities, p.Additionals} {
		for _, rr := range section {
			b, err := rr.Marshal()
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	return out, nil
}

// ParsePacket decodes a complete DNS message.
func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Header: h}

	limit := func(count uint16, cap int) int {
		if int(count) > cap {
			return cap
		}
		return int(count)
	}

	p.Questions = make([]Question, 0, limit(h.QDCount, MaxQuestions))
	for range h.QDCount {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}
	sections := []*[]Record{&p.Answers, &p.Authorities, &p.Additionals}
	counts := []uint16{h.ANCount, h.NSCount, h.ARCount}
	for i, sec := range sections {
		*sec = make([]Record, 0, limit(counts[i], MaxRRPerSection))
		for range counts[i] {
			rr, err := ParseRecord(msg, &off)
			if err != nil {
				return Packet{}, err
			}
			*sec = append(*sec, rr)
		}
	}
	return p, nil
}
