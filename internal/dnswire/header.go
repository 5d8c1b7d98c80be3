package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Header is a DNS message header (RFC 1035 Section 4.1.1): 12 bytes fixed,
// carrying the transaction ID, flag bits, and the four section counts.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// HeaderSize is the fixed size of a DNS header in bytes.
const HeaderSize = 12

// Marshal serializes the header to wire format (big-endian, 12 bytes).
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
	return b
}

// ParseHeader parses a DNS header at *off, advancing *off by HeaderSize.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: unexpected EOF reading header", ErrFormat)
	}
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[*off : *off+2]),
		Flags:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
		QDCount: binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		ANCount: binary.BigEndian.Uint16(msg[*off+6 : *off+8]),
		NSCount: binary.BigEndian.Uint16(msg[*off+8 : *off+10]),
		ARCount: binary.BigEndian.Uint16(msg[*off+10 : *off+12]),
	}
	*off += HeaderSize
	return h, nil
}

// ExtractTransactionID reads the 2-byte transaction ID without parsing the
// rest of the message. Zero-allocation fast path used by the response
// pipeline and the cache's ID-rewrite step.
func ExtractTransactionID(msg []byte) ([2]byte, error) {
	var id [2]byte
	if len(msg) < 2 {
		return id, fmt.Errorf("%w: message shorter than transaction id", ErrFormat)
	}
	id[0], id[1] = msg[0], msg[1]
	return id, nil
}

// PatchTransactionID returns a copy of msg with its first two bytes replaced
// by id. Used to rewrite a shared cached response to a specific client's
// transaction ID before writing it back.
func PatchTransactionID(msg []byte, id uint16) []byte {
	if len(msg) < 2 {
		return msg
	}
	out := make([]byte, len(msg))
	copy(out, msg)
	binary.BigEndian.PutUint16(out[0:2], id)
	return out
}
