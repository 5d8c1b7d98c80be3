package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuery(t *testing.T, qtype RecordType) Query {
	t.Helper()
	p := Packet{
		Header:    Header{ID: 0x4242, Flags: RDFlag},
		Questions: []Question{{Name: "blocked.example.com", Type: uint16(qtype), Class: uint16(ClassIN)}},
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	q, err := DecodeQuery(b)
	require.NoError(t, err)
	return q
}

func TestSynthesizeBlockA(t *testing.T) {
	q := sampleQuery(t, TypeA)
	resp := SynthesizeBlockA(q)

	decoded, err := ParsePacket(resp)
	require.NoError(t, err)
	assert.Equal(t, RCodeNoError, RCodeFromFlags(decoded.Header.Flags))
	require.Len(t, decoded.Answers, 1)
	addr, ok := decoded.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, uint32(0), decoded.Answers[0].TTL)
}

func TestSynthesizeNXDomain(t *testing.T) {
	q := sampleQuery(t, TypeMX)
	resp := SynthesizeNXDomain(q)
	decoded, err := ParsePacket(resp)
	require.NoError(t, err)
	assert.Equal(t, RCodeNXDomain, RCodeFromFlags(decoded.Header.Flags))
	assert.Empty(t, decoded.Answers)
}

func TestSynthesizeFormatErrorPreservesTransactionID(t *testing.T) {
	raw := []byte{0x12, 0x34, 0x00}
	resp := SynthesizeFormatError(raw)
	off := 0
	h, err := ParseHeader(resp, &off)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), h.ID)
	assert.Equal(t, RCodeFormErr, RCodeFromFlags(h.Flags))
}

func TestSynthesizeTruncatedFromSetsTCAndDropsAnswers(t *testing.T) {
	q := sampleQuery(t, TypeA)
	full := SynthesizeBlockA(q)
	truncated := SynthesizeTruncatedFrom(full)

	off := 0
	h, err := ParseHeader(truncated, &off)
	require.NoError(t, err)
	assert.NotZero(t, h.Flags&TCFlag)
	assert.Equal(t, uint16(0), h.ANCount)
	assert.Equal(t, uint16(1), h.QDCount)
}

func TestRewriteTTLSetsAbsoluteValue(t *testing.T) {
	q := sampleQuery(t, TypeA)
	resp := SynthesizeBlockA(q)

	rewritten, err := RewriteTTL(resp, 120)
	require.NoError(t, err)
	decoded, err := ParsePacket(rewritten)
	require.NoError(t, err)
	require.Len(t, decoded.Answers, 1)
	assert.Equal(t, uint32(120), decoded.Answers[0].TTL)
}

func TestDecrementTTLByAgeFloorsAtOne(t *testing.T) {
	p := Packet{
		Header:    Header{ID: 1, Flags: responseFlags(0, RCodeNoError)},
		Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
		Answers:   []Record{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 5, Data: []byte{1, 1, 1, 1}}},
	}
	resp, err := p.Marshal()
	require.NoError(t, err)

	aged, err := DecrementTTLByAge(resp, 100)
	require.NoError(t, err)
	decoded, err := ParsePacket(aged)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), decoded.Answers[0].TTL)
}
