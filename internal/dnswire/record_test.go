package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalA(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 300, Data: []byte{192, 0, 2, 1}}
	b, err := rr.Marshal()
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}

func TestRecordRoundTripA(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 300, Data: []byte{192, 0, 2, 1}}
	b, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(b, &off)
	require.NoError(t, err)
	assert.Equal(t, "example.com", parsed.Name)
	assert.Equal(t, uint32(300), parsed.TTL)
	addr, ok := parsed.IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", addr)
}

func TestRecordMarshalCNAME(t *testing.T) {
	rr := Record{Name: "www.example.com", Type: uint16(TypeCNAME), Class: uint16(ClassIN), TTL: 3600, Data: "example.com"}
	b, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(b, &off)
	require.NoError(t, err)
	assert.Equal(t, "example.com", parsed.Data)
}

func TestRecordMarshalMX(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeMX), Class: uint16(ClassIN), TTL: 3600,
		Data: MXData{Preference: 10, Exchange: "mail.example.com"}}
	b, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(b, &off)
	require.NoError(t, err)
	assert.Equal(t, MXData{Preference: 10, Exchange: "mail.example.com"}, parsed.Data)
}

func TestRecordMarshalSOA(t *testing.T) {
	soa := SOAData{MName: "ns1.example.com", RName: "admin.example.com", Serial: 1, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 300}
	rr := Record{Name: "example.com", Type: uint16(TypeSOA), Class: uint16(ClassIN), TTL: 3600, Data: soa}
	b, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(b, &off)
	require.NoError(t, err)
	assert.Equal(t, soa, parsed.Data)

	min, ok := SOAMinimum(parsed)
	require.True(t, ok)
	assert.Equal(t, uint32(300), min)
}

func TestRecordMarshalTXTChunking(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	rr := Record{Name: "example.com", Type: uint16(TypeTXT), Class: uint16(ClassIN), TTL: 60, Data: string(long)}
	b, err := rr.Marshal()
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}

func TestRecordMarshalAInvalidLength(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 300, Data: []byte{1, 2, 3}}
	_, err := rr.Marshal()
	assert.ErrorIs(t, err, ErrFormat)
}

func TestSOAMinimumWrongType(t *testing.T) {
	rr := Record{Type: uint16(TypeA), Data: []byte{1, 2, 3, 4}}
	_, ok := SOAMinimum(rr)
	assert.False(t, ok)
}
