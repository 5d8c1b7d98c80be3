package dnswire

import (
	"encoding/binary"
	"net"
)

// DefaultUDPPayloadSize is the classic (non-EDNS) UDP response size limit.
const DefaultUDPPayloadSize = 512

func responseFlags(reqFlags uint16, rcode RCode) uint16 {
	flags := QRFlag | RAFlag
	flags |= reqFlags & RDFlag
	return (flags &^ RCodeMask) | (uint16(rcode) & RCodeMask)
}

func echoQuestion(q Query) Question {
	return Question{Name: q.QName, Type: uint16(q.QType), Class: uint16(ClassIN)}
}

// SynthesizeBlockA builds a blocked-A answer: NOERROR, one A record
// pointing at 127.0.0.1, TTL 0.
func SynthesizeBlockA(q Query) []byte {
	p := Packet{
		Header:    Header{ID: q.TransactionID, Flags: responseFlags(0, RCodeNoError)},
		Questions: []Question{echoQuestion(q)},
		Answers: []Record{{
			Name: q.QName, Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 0,
			Data: net.IPv4(127, 0, 0, 1).To4(),
		}},
	}
	b, err := p.Marshal()
	if err != nil {
		return SynthesizeServFail(q)
	}
	return b
}

// SynthesizeBlockAAAA builds a blocked-AAAA answer: NOERROR, no answers
// (an empty answer set, not NXDOMAIN, so the resolver does not fall back
// to a secondary query type).
func SynthesizeBlockAAAA(q Query) []byte {
	p := Packet{
		Header:    Header{ID: q.TransactionID, Flags: responseFlags(0, RCodeNoError)},
		Questions: []Question{echoQuestion(q)},
	}
	b, err := p.Marshal()
	if err != nil {
		return SynthesizeServFail(q)
	}
	return b
}

// SynthesizeNXDomain builds an NXDOMAIN answer with no answer records.
// Used for block decisions on query types other than A/AAAA.
func SynthesizeNXDomain(q Query) []byte {
	p := Packet{
		Header:    Header{ID: q.TransactionID, Flags: responseFlags(0, RCodeNXDomain)},
		Questions: []Question{echoQuestion(q)},
	}
	b, err := p.Marshal()
	if err != nil {
		return SynthesizeServFail(q)
	}
	return b
}

// SynthesizeServFail builds a SERVFAIL answer with no answer records.
func SynthesizeServFail(q Query) []byte {
	h := Header{ID: q.TransactionID, Flags: responseFlags(0, RCodeServFail), QDCount: 1}
	b := h.Marshal()
	qb, err := echoQuestion(q).Marshal()
	if err != nil {
		h.QDCount = 0
		return h.Marshal()
	}
	return append(b, qb...)
}

// SynthesizeFormatError builds a minimal 12-byte-header FORMERR response
// from raw, possibly-malformed input. It recovers the transaction ID if
// the first two bytes are present, and otherwise answers with ID 0.
func SynthesizeFormatError(raw []byte) []byte {
	var id uint16
	if len(raw) >= 2 {
		id = binary.BigEndian.Uint16(raw[0:2])
	}
	h := Header{ID: id, Flags: responseFlags(0, RCodeFormErr)}
	return h.Marshal()
}

// SynthesizeTruncatedFrom copies resp's header and question section, sets
// TC=1, and zeroes the answer/authority/additional counts, so the client
// retries over TCP. Mirrors the teacher's truncateUDPResponse wire walk.
func SynthesizeTruncatedFrom(resp []byte) []byte {
	if len(resp) < HeaderSize {
		return resp
	}
	qdcount := binary.BigEndian.Uint16(resp[4:6])

	flags := binary.BigEndian.Uint16(resp[2:4]) | TCFlag
	h := make([]byte, HeaderSize)
	copy(h[0:2], resp[0:2])
	binary.BigEndian.PutUint16(h[2:4], flags)
	binary.BigEndian.PutUint16(h[4:6], qdcount)

	if qdcount == 0 {
		return h
	}
	qEnd := questionSectionEnd(resp, int(qdcount))
	if qEnd <= HeaderSize || qEnd > len(resp) {
		return h
	}
	out := make([]byte, 0, qEnd)
	out = append(out, h...)
	return append(out, resp[HeaderSize:qEnd]...)
}

func questionSectionEnd(msg []byte, qdcount int) int {
	pos := HeaderSize
	for range qdcount {
		pos = skipQName(msg, pos)
		if pos+4 > len(msg) {
			return len(msg)
		}
		pos += 4
	}
	return pos
}

func skipQName(msg []byte, pos int) int {
	for pos < len(msg) {
		labelLen := msg[pos]
		if labelLen == 0 {
			return pos + 1
		}
		if labelLen >= 0xC0 {
			if pos+2 > len(msg) {
				return len(msg)
			}
			return pos + 2
		}
		pos++
		if pos+int(labelLen) > len(msg) {
			return len(msg)
		}
		pos += int(labelLen)
	}
	return pos
}

// RewriteTTL walks every RR in resp (answers, authorities, additionals),
// skipping OPT pseudo-records, and overwrites its TTL field with newTTL.
// Every record ends up with the same TTL regardless of its original value;
// response-cache hits are served through DecrementTTLByAge instead.
func RewriteTTL(resp []byte, newTTL uint32) ([]byte, error) {
	return walkAndRewriteTTL(resp, func(uint32) uint32 { return newTTL })
}

// DecrementTTLByAge walks every RR and reduces its TTL by ageSeconds,
// flooring at 1. Used when serving a response-cache hit to reflect the
// time already spent in cache.
func DecrementTTLByAge(resp []byte, ageSeconds uint32) ([]byte, error) {
	if ageSeconds == 0 {
		return resp, nil
	}
	return walkAndRewriteTTL(resp, func(old uint32) uint32 {
		if old <= ageSeconds {
			return 1
		}
		return old - ageSeconds
	})
}

func walkAndRewriteTTL(resp []byte, f func(uint32) uint32) ([]byte, error) {
	if len(resp) < HeaderSize {
		return nil, ErrFormat
	}
	out := make([]byte, len(resp))
	copy(out, resp)

	qdcount := binary.BigEndian.Uint16(out[4:6])
	ancount := binary.BigEndian.Uint16(out[6:8])
	nscount := binary.BigEndian.Uint16(out[8:10])
	arcount := binary.BigEndian.Uint16(out[10:12])

	off := HeaderSize
	for range qdcount {
		if _, err := DecodeName(out, &off); err != nil || off+4 > len(out) {
			return resp, nil //nolint:nilerr // best-effort: return the unmodified response
		}
		off += 4
	}

	total := int(ancount) + int(nscount) + int(arcount)
	for range total {
		if _, err := DecodeName(out, &off); err != nil || off+10 > len(out) {
			return resp, nil //nolint:nilerr
		}
		recordType := binary.BigEndian.Uint16(out[off : off+2])
		off += 4 // TYPE + CLASS

		if recordType != uint16(TypeOPT) {
			oldTTL := binary.BigEndian.Uint32(out[off : off+4])
			binary.BigEndian.PutUint32(out[off:off+4], f(oldTTL))
		}
		off += 4 // TTL

		if off+2 > len(out) {
			return resp, nil
		}
		rdlen := int(binary.BigEndian.Uint16(out[off : off+2]))
		off += 2
		if off+rdlen > len(out) {
			return resp, nil
		}
		off += rdlen
	}
	return out, nil
}
