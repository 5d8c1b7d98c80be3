package flowio

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydraflow/internal/dnswire"
	"github.com/jroosing/hydraflow/internal/flowengine"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

func openTestStore(t *testing.T) *rulestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := rulestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEngine(t *testing.T) *flowengine.Engine {
	t.Helper()
	e := flowengine.New(flowengine.Config{
		RuleCache: rulecache.New(0),
		RuleStore: openTestStore(t),
		Reachable: func() bool { return false },
	})
	return e
}

func TestUDPListenerRunOnConnDeliversResponse(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer serverConn.Close()

	l := &UDPListener{Engine: testEngine(t), WorkersPerSocket: 2}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.RunOnConn(ctx, serverConn)

	client, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	pkt := dnswire.Packet{
		Header:    dnswire.Header{ID: 0xABCD, Flags: dnswire.RDFlag},
		Questions: []dnswire.Question{{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = client.Write(raw)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	resp, err := dnswire.ParsePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeServFail, dnswire.RCodeFromFlags(resp.Header.Flags))
	assert.Equal(t, uint16(0xABCD), resp.Header.ID)
}
