package dnswire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Record is a DNS resource record. Data is type-specific:
//   - A/AAAA/OPT: []byte
//   - CNAME/NS/PTR: string
//   - MX: MXData
//   - SOA: SOAData
//   - SRV/other: []byte (opaque, kept for TTL-rewrite)
//   - TXT: string, []string, or []byte
type Record struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  any
}

// MXData is the RDATA of an MX record.
type MXData struct {
	Preference uint16
	Exchange   string
}

// SOAData is the RDATA of an SOA record. Minimum is the field used per
// RFC 2308 as the negative-caching TTL ceiling.
type SOAData struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// ParseRecord parses one resource record at *off.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Record{}, err
	}
	if *off+10 > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF reading record", ErrFormat)
	}
	rrType := binary.BigEndian.Uint16(msg[*off : *off+2])
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := binary.BigEndian.Uint16(msg[*off+8 : *off+10])
	*off += 10
	start := *off
	if start+int(rdlen) > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF reading rdata", ErrFormat)
	}

	var data any
	switch RecordType(rrType) {
	case TypeCNAME, TypeNS, TypePTR:
		n, err := DecodeName(msg, off)
		if err != nil {
			return Record{}, err
		}
		if *off-start != int(rdlen) {
			return Record{}, fmt.Errorf("%w: invalid rdata length for name-based type", ErrFormat)
		}
		data = n
	case TypeMX:
		if *off+2 > len(msg) {
			return Record{}, fmt.Errorf("%w: unexpected EOF reading MX preference", ErrFormat)
		}
		pref := binary.BigEndian.Uint16(msg[*off : *off+2])
		*off += 2
		ex, err := DecodeName(msg, off)
		if err != nil {
			return Record{}, err
		}
		if *off-start != int(rdlen) {
			return Record{}, fmt.Errorf("%w: invalid rdata length for MX", ErrFormat)
		}
		data = MXData{Preference: pref, Exchange: ex}
	case TypeSOA:
		soa, err := parseSOAData(msg, off, start, int(rdlen))
		if err != nil {
			return Record{}, err
		}
		data = soa
	default:
		b := make([]byte, rdlen)
		copy(b, msg[*off:*off+int(rdlen)])
		*off += int(rdlen)
		data = b
	}

	return Record{Name: name, Type: rrType, Class: rrClass, TTL: ttl, Data: data}, nil
}

func parseSOAData(msg []byte, off *int, start, rdlen int) (SOAData, error) {
	mname, err := DecodeName(msg, off)
	if err != nil {
		return SOAData{}, err
	}
	rname, err := DecodeName(msg, off)
	if err != nil {
		return SOAData{}, err
	}
	if *off+20 > len(msg) {
		return SOAData{}, fmt.Errorf("%w: unexpected EOF reading SOA fixed fields", ErrFormat)
	}
	soa := SOAData{
		MName:   mname,
		RName:   rname,
		Serial:  binary.BigEndian.Uint32(msg[*off : *off+4]),
		Refresh: binary.BigEndian.Uint32(msg[*off+4 : *off+8]),
		Retry:   binary.BigEndian.Uint32(msg[*off+8 : *off+12]),
		Expire:  binary.BigEndian.Uint32(msg[*off+12 : *off+16]),
		Minimum: binary.BigEndian.Uint32(msg[*off+16 : *off+20]),
	}
	*off += 20
	if *off-start != rdlen {
		return SOAData{}, fmt.Errorf("%w: invalid rdata length for SOA", ErrFormat)
	}
	return soa, nil
}

// Marshal serializes the record to wire format. OPT records encode the
// root name (0x00) in place of Name, per RFC 6891.
func (rr Record) Marshal() ([]byte, error) {
	nameWire := []byte{0}
	if rr.Type != uint16(TypeOPT) {
		b, err := EncodeName(rr.Name)
		if err != nil {
			return nil, err
		}
		nameWire = b
	}

	rdata, err := rr.marshalRData()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nameWire)+10+len(rdata))
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], rr.Type)
	binary.BigEndian.PutUint16(fixed[2:4], rr.Class)
	binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	out = append(out, fixed...)
	return append(out, rdata...), nil
}

func (rr Record) marshalRData() ([]byte, error) {
	switch RecordType(rr.Type) {
	case TypeA:
		b, ok := rr.Data.([]byte)
		if !ok || len(b) != 4 {
			return nil, fmt.Errorf("%w: A record data must be 4 bytes", ErrFormat)
		}
		return b, nil
	case TypeAAAA:
		b, ok := rr.Data.([]byte)
		if !ok || len(b) != 16 {
			return nil, fmt.Errorf("%w: AAAA record data must be 16 bytes", ErrFormat)
		}
		return b, nil
	case TypeMX:
		mx, ok := rr.Data.(MXData)
		if !ok {
			return nil, fmt.Errorf("%w: MX record data must be MXData", ErrFormat)
		}
		ex, err := EncodeName(mx.Exchange)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 2+len(ex))
		binary.BigEndian.PutUint16(out[0:2], mx.Preference)
		copy(out[2:], ex)
		return out, nil
	case TypeCNAME, TypeNS, TypePTR:
		s, ok := rr.Data.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: name-based record data must be a non-empty string", ErrFormat)
		}
		return EncodeName(s)
	case TypeSOA:
		soa, ok := rr.Data.(SOAData)
		if !ok {
			return nil, fmt.Errorf("%w: SOA record data must be SOAData", ErrFormat)
		}
		mname, err := EncodeName(soa.MName)
		if err != nil {
			return nil, err
		}
		rname, err := EncodeName(soa.RName)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(mname)+len(rname)+20)
		out = append(out, mname...)
		out = append(out, rname...)
		fixed := make([]byte, 20)
		binary.BigEndian.PutUint32(fixed[0:4], soa.Serial)
		binary.BigEndian.PutUint32(fixed[4:8], soa.Refresh)
		binary.BigEndian.PutUint32(fixed[8:12], soa.Retry)
		binary.BigEndian.PutUint32(fixed[12:16], soa.Expire)
		binary.BigEndian.PutUint32(fixed[16:20], soa.Minimum)
		return append(out, fixed...), nil
	case TypeTXT:
		return marshalTXT(rr.Data)
	case TypeOPT:
		if rr.Data == nil {
			return nil, nil
		}
		b, ok := rr.Data.([]byte)
		if ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: OPT record data must be raw bytes", ErrFormat)
	default:
		if b, ok := rr.Data.([]byte); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: unsupported record type for serialization: %d", ErrFormat, rr.Type)
	}
}

func marshalTXT(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return marshalTXTString(t), nil
	case []string:
		total := 0
		for _, s := range t {
			total += 1 + len(s)
		}
		out := make([]byte, 0, total)
		for _, s := range t {
			b := []byte(s)
			if len(b) > 255 {
				return nil, fmt.Errorf("%w: TXT character-string cannot exceed 255 bytes", ErrFormat)
			}
			out = append(out, byte(len(b)))
			out = append(out, b...)
		}
		return out, nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: TXT record data must be string, []string, or []byte", ErrFormat)
	}
}

func marshalTXTString(s string) []byte {
	b := []byte(s)
	if len(b) <= 255 {
		out := make([]byte, 1+len(b))
		out[0] = byte(len(b))
		copy(out[1:], b)
		return out
	}
	numChunks := (len(b) + 254) / 255
	out := make([]byte, 0, len(b)+numChunks)
	for i := 0; i < len(b); i += 255 {
		chunk := b[i:]
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		out = append(out, byte(len(chunk)))
		out = append(out, chunk...)
	}
	return out
}

// IPv4 returns the record's address as a dotted-quad string, if it is an A record.
func (rr Record) IPv4() (string, bool) {
	if RecordType(rr.Type) != TypeA {
		return "", false
	}
	b, ok := rr.Data.([]byte)
	if !ok || len(b) != 4 {
		return "", false
	}
	return net.IPv4(b[0], b[1], b[2], b[3]).String(), true
}

// IPv6 returns the record's address as a string, if it is an AAAA record.
func (rr Record) IPv6() (string, bool) {
	if RecordType(rr.Type) != TypeAAAA {
		return "", false
	}
	b, ok := rr.Data.([]byte)
	if !ok || len(b) != 16 {
		return "", false
	}
	return net.IP(b).String(), true
}
