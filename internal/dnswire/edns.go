package dnswire

import (
	"encoding/binary"

	"github.com/jroosing/hydraflow/internal/helpers"
)

// EDNS (Extension Mechanisms for DNS) constants per RFC 6891.
const (
	EDNSDefaultUDPPayloadSize = 1232 // safe EDNS size avoiding fragmentation
	EDNSMaxUDPPayloadSize     = 4096
	EDNSMinUDPPayloadSize     = 512
)

// EDNSOption is one EDNS option carried in an OPT record's RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

const (
	ednsOptionHeaderLen   = 4
	ednsMaxOptionDataSize = EDNSMaxUDPPayloadSize
)

func isAllowedEDNSOption(code uint16) bool {
	switch code {
	case 10, 12: // COOKIE, PADDING
		return true
	default:
		return false
	}
}

// Marshal serializes an EDNS option to wire format.
func (o EDNSOption) Marshal() []byte {
	b := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(b[0:2], o.Code)
	binary.BigEndian.PutUint16(b[2:4], helpers.ClampIntToUint16(len(o.Data)))
	copy(b[4:], o.Data)
	return b
}

// ParseEDNSOptions extracts allowed EDNS options from raw RDATA, skipping
// unknown or oversized options.
func ParseEDNSOptions(rdata []byte) []EDNSOption {
	opts := make([]EDNSOption, 0, 2)
	for i := 0; i < len(rdata); {
		if len(rdata)-i < ednsOptionHeaderLen {
			break
		}
		code := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		i += ednsOptionHeaderLen

		if ln > ednsMaxOptionDataSize || i+ln > len(rdata) {
			break
		}
		if !isAllowedEDNSOption(code) {
			i += ln
			continue
		}
		data := make([]byte, ln)
		copy(data, rdata[i:i+ln])
		opts = append(opts, EDNSOption{Code: code, Data: data})
		i += ln
	}
	return opts
}

// OPTRecord is an EDNS OPT pseudo-record (RFC 6891). It reuses the DNS
// fixed-record fields non-standardly: CLASS carries the UDP payload size
// and TTL packs extended RCODE, version, and the DO flag.
type OPTRecord struct {
	UDPPayloadSize uint16
	ExtendedRCode  uint8
	Version        uint8
	DNSSECOk       bool
	Options        []EDNSOption
}

// CreateOPT builds an OPT record advertising the given UDP payload size.
func CreateOPT(udpPayloadSize int) OPTRecord {
	sz := helpers.ClampInt(udpPayloadSize, EDNSMinUDPPayloadSize, 65535)
	return OPTRecord{UDPPayloadSize: helpers.ClampIntToUint16(sz)}
}

// ToRecord converts the OPT record to the generic wire Record, ready for
// inclusion in a Packet's Additionals section.
func (o OPTRecord) ToRecord() Record {
	rdata := make([]byte, 0)
	for _, opt := range o.Options {
		rdata = append(rdata, opt.Marshal()...)
	}
	return Record{
		Type:  uint16(TypeOPT),
		Class: o.UDPPayloadSize,
		TTL:   packOPTTTL(o.ExtendedRCode, o.Version, o.DNSSECOk),
		Data:  rdata,
	}
}

func packOPTTTL(extRCode, version uint8, dnssecOk bool) uint32 {
	ttl := uint32(extRCode)<<24 | uint32(version)<<16
	if dnssecOk {
		ttl |= 1 << 15
	}
	return ttl
}

// ExtractOPT finds and decodes an OPT pseudo-record from the additionals
// section, or returns nil if none is present.
func ExtractOPT(additionals []Record) *OPTRecord {
	for _, r := range additionals {
		if RecordType(r.Type) != TypeOPT {
			continue
		}
		raw, _ := r.Data.([]byte)
		return &OPTRecord{
			UDPPayloadSize: r.Class,
			ExtendedRCode:  helpers.ClampUint32ToUint8((r.TTL >> 24) & 0xFF),
			Version:        helpers.ClampUint32ToUint8((r.TTL >> 16) & 0xFF),
			DNSSECOk:       (r.TTL>>15)&0x1 == 1,
			Options:        ParseEDNSOptions(raw),
		}
	}
	return nil
}

// ClientMaxUDPSize returns the client's advertised maximum UDP response
// size: the EDNS OPT payload size if present (floored at the classic 512
// limit), else the classic 512-byte limit.
func ClientMaxUDPSize(req Packet) int {
	opt := ExtractOPT(req.Additionals)
	if opt == nil {
		return DefaultUDPPayloadSize
	}
	if opt.UDPPayloadSize < DefaultUDPPayloadSize {
		return DefaultUDPPayloadSize
	}
	return int(opt.UDPPayloadSize)
}

// IsTruncated reports whether a response has the TC flag set.
func IsTruncated(resp []byte) bool {
	if len(resp) < 4 {
		return false
	}
	return binary.BigEndian.Uint16(resp[2:4])&TCFlag != 0
}

// AddEDNSToRequestBytes appends an OPT record to reqBytes if the decoded
// request doesn't already carry one, advertising udpSize.
func AddEDNSToRequestBytes(req Packet, reqBytes []byte, udpSize int) []byte {
	if ExtractOPT(req.Additionals) != nil {
		return reqBytes
	}
	optBytes, err := CreateOPT(udpSize).ToRecord().Marshal()
	if err != nil || len(reqBytes) < HeaderSize {
		return reqBytes
	}

	ar := binary.BigEndian.Uint16(reqBytes[10:12])
	if ar < 65535 {
		ar++
	}
	out := make([]byte, 0, len(reqBytes)+len(optBytes))
	out = append(out, reqBytes...)
	binary.BigEndian.PutUint16(out[10:12], ar)
	return append(out, optBytes...)
}
