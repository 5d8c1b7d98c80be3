package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOPTRoundTrip(t *testing.T) {
	opt := CreateOPT(4096)
	opt.DNSSECOk = true
	rr := opt.ToRecord()

	b, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(b, &off)
	require.NoError(t, err)

	extracted := ExtractOPT([]Record{parsed})
	require.NotNil(t, extracted)
	assert.Equal(t, uint16(4096), extracted.UDPPayloadSize)
	assert.True(t, extracted.DNSSECOk)
}

func TestExtractOPTAbsent(t *testing.T) {
	assert.Nil(t, ExtractOPT(nil))
	assert.Nil(t, ExtractOPT([]Record{{Type: uint16(TypeA)}}))
}

func TestParseEDNSOptionsFiltersDisallowed(t *testing.T) {
	cookie := EDNSOption{Code: 10, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	unknown := EDNSOption{Code: 99, Data: []byte{0xFF}}
	rdata := append(cookie.Marshal(), unknown.Marshal()...)

	opts := ParseEDNSOptions(rdata)
	require.Len(t, opts, 1)
	assert.Equal(t, uint16(10), opts[0].Code)
}

func TestClientMaxUDPSizeDefaultsWithoutOPT(t *testing.T) {
	req := Packet{Header: Header{QDCount: 1}, Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}}}
	assert.Equal(t, DefaultUDPPayloadSize, ClientMaxUDPSize(req))
}

func TestClientMaxUDPSizeFromOPT(t *testing.T) {
	req := Packet{
		Header:      Header{QDCount: 1},
		Questions:   []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
		Additionals: []Record{CreateOPT(4096).ToRecord()},
	}
	assert.Equal(t, 4096, ClientMaxUDPSize(req))
}

func TestIsTruncated(t *testing.T) {
	h := Header{Flags: TCFlag}
	assert.True(t, IsTruncated(h.Marshal()))

	h2 := Header{Flags: 0}
	assert.False(t, IsTruncated(h2.Marshal()))
}

func TestAddEDNSToRequestBytesSkipsWhenPresent(t *testing.T) {
	req := Packet{
		Header:      Header{ID: 1, ARCount: 1},
		Additionals: []Record{CreateOPT(1232).ToRecord()},
	}
	reqBytes, err := req.Marshal()
	require.NoError(t, err)

	out := AddEDNSToRequestBytes(req, reqBytes, 4096)
	assert.Equal(t, reqBytes, out)
}

func TestAddEDNSToRequestBytesAppendsOPT(t *testing.T) {
	req := Packet{
		Header:    Header{ID: 1, QDCount: 1},
		Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
	}
	reqBytes, err := req.Marshal()
	require.NoError(t, err)

	out := AddEDNSToRequestBytes(req, reqBytes, 4096)
	assert.Greater(t, len(out), len(reqBytes))

	parsed, err := ParsePacket(out)
	require.NoError(t, err)
	require.Len(t, parsed.Additionals, 1)
	opt := ExtractOPT(parsed.Additionals)
	require.NotNil(t, opt)
	assert.Equal(t, uint16(4096), opt.UDPPayloadSize)
}
