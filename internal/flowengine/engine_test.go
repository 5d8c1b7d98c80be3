package flowengine

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydraflow/internal/dnswire"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

type fakeWriter struct {
	mu       sync.Mutex
	remote   string
	transport string
	written  [][]byte
	done     chan struct{}
}

func newFakeWriter(remote, transport string) *fakeWriter {
	return &fakeWriter{remote: remote, transport: transport, done: make(chan struct{}, 8)}
}

func (w *fakeWriter) WriteResponse(data []byte) error {
	w.mu.Lock()
	w.written = append(w.written, data)
	w.mu.Unlock()
	select {
	case w.done <- struct{}{}:
	default:
	}
	return nil
}

func (w *fakeWriter) RemoteAddr() string { return w.remote }
func (w *fakeWriter) Transport() string  { return w.transport }

func (w *fakeWriter) last() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.written) == 0 {
		return nil
	}
	return w.written[len(w.written)-1]
}

func openTestStore(t *testing.T) *rulestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := rulestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func buildQuery(t *testing.T, name string, qtype dnswire.RecordType) []byte {
	t.Helper()
	pkt := dnswire.Packet{
		Header:    dnswire.Header{ID: 0x1234, Flags: dnswire.RDFlag},
		Questions: []dnswire.Question{{Name: name, Type: uint16(qtype), Class: uint16(dnswire.ClassIN)}},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestHandleQueryBlocksSynthesizesA(t *testing.T) {
	store := openTestStore(t)
	tx, err := store.BeginTx()
	require.NoError(t, err)
	_, err = tx.Add([]rulestore.Rule{{Domain: "ads.example.com", Action: rulestore.Block, MatchType: rulestore.Exact, Source: rulestore.SourceUser}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	e := New(Config{
		RuleCache: rulecache.New(0),
		RuleStore: store,
		Reachable: func() bool { return true },
	})
	e.state = Running

	w := newFakeWriter("203.0.113.5:40000", "udp")
	e.HandleQuery(w, buildQuery(t, "ads.example.com", dnswire.TypeA))

	resp := w.last()
	require.NotNil(t, resp)
	answer, err := dnswire.ParsePacket(resp)
	require.NoError(t, err)
	require.Len(t, answer.Answers, 1)
	addr, ok := answer.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", addr)
}

func TestHandleQueryUpdatesTelemetry(t *testing.T) {
	store := openTestStore(t)
	tx, err := store.BeginTx()
	require.NoError(t, err)
	_, err = tx.Add([]rulestore.Rule{{Domain: "ads.example.com", Action: rulestore.Block, MatchType: rulestore.Exact, Source: rulestore.SourceUser}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	respCache := respcache.New(0)
	q, err := dnswire.DecodeQuery(buildQuery(t, "cached.example.com", dnswire.TypeA))
	require.NoError(t, err)
	respCache.Set(respcache.Key{QName: "cached.example.com", QType: dnswire.TypeA}, dnswire.SynthesizeBlockA(q), 60*time.Second)

	e := New(Config{
		RuleCache:     rulecache.New(0),
		RuleStore:     store,
		ResponseCache: respCache,
		CacheEnabled:  true,
		Reachable:     func() bool { return true },
	})
	e.state = Running

	w := newFakeWriter("203.0.113.5:40000", "udp")
	e.HandleQuery(w, buildQuery(t, "ads.example.com", dnswire.TypeA))
	e.HandleQuery(w, buildQuery(t, "cached.example.com", dnswire.TypeA))

	snap := e.Snapshot()
	assert.EqualValues(t, 2, snap.TotalQueries)
	assert.EqualValues(t, 1, snap.Blocked)
	assert.EqualValues(t, 1, snap.CacheHits)
	assert.EqualValues(t, 0, snap.ServfailsSynthesized)
}

func TestHandleQueryServesFromResponseCache(t *testing.T) {
	store := openTestStore(t)
	respCache := respcache.New(0)

	q := dnswire.Query{}
	rawQuery := buildQuery(t, "example.com", dnswire.TypeA)
	decoded, err := dnswire.DecodeQuery(rawQuery)
	require.NoError(t, err)
	q = decoded

	blockResp := dnswire.SynthesizeBlockA(q)
	respCache.Set(respcache.Key{QName: "example.com", QType: dnswire.TypeA}, blockResp, 60*time.Second)

	e := New(Config{
		RuleCache:     rulecache.New(0),
		RuleStore:     store,
		ResponseCache: respCache,
		CacheEnabled:  true,
		Reachable:     func() bool { return true },
	})
	e.state = Running

	w := newFakeWriter("203.0.113.5:40000", "udp")
	e.HandleQuery(w, rawQuery)

	resp := w.last()
	require.NotNil(t, resp)
	idBytes, err := dnswire.ExtractTransactionID(resp)
	require.NoError(t, err)
	gotID := uint16(idBytes[0])<<8 | uint16(idBytes[1])
	assert.Equal(t, q.TransactionID, gotID)
}

func TestHandleQueryUnreachableSynthesizesServFail(t *testing.T) {
	store := openTestStore(t)
	e := New(Config{
		RuleCache: rulecache.New(0),
		RuleStore: store,
		Reachable: func() bool { return false },
	})
	e.state = Running

	w := newFakeWriter("203.0.113.5:40000", "udp")
	e.HandleQuery(w, buildQuery(t, "example.com", dnswire.TypeA))

	resp := w.last()
	require.NotNil(t, resp)
	assert.Equal(t, dnswire.RCodeServFail, dnswire.RCodeFromFlags(mustParseFlags(t, resp)))
}

func mustParseFlags(t *testing.T, raw []byte) uint16 {
	t.Helper()
	pkt, err := dnswire.ParsePacket(raw)
	require.NoError(t, err)
	return pkt.Header.Flags
}

func TestOriginalResolverOfDetectsPort53(t *testing.T) {
	w := newFakeWriter("8.8.8.8:53", "udp")
	host, ok := originalResolverOf(w, respcache.Policy{})
	assert.True(t, ok)
	assert.Equal(t, "8.8.8.8", host)
}

func TestOriginalResolverOfDetectsVPNRange(t *testing.T) {
	w := newFakeWriter("100.64.0.5:51000", "udp")
	host, ok := originalResolverOf(w, respcache.Policy{})
	assert.True(t, ok)
	assert.Equal(t, "100.64.0.5", host)
}

func TestOriginalResolverOfRejectsOrdinaryClient(t *testing.T) {
	w := newFakeWriter("203.0.113.5:40000", "udp")
	_, ok := originalResolverOf(w, respcache.Policy{})
	assert.False(t, ok)
}

func TestTransitionQueueDropsOldestOnOverflow(t *testing.T) {
	q := newTransitionQueue()
	for i := 0; i < transitionQueueCap; i++ {
		_, _ = q.enqueue(nil, []byte{byte(i)})
	}
	dropped, ok := q.enqueue(nil, []byte{0xFF})
	require.True(t, ok)
	require.NotNil(t, dropped)
	assert.Equal(t, []byte{0}, dropped.raw)

	items := q.drain()
	assert.Len(t, items, transitionQueueCap)
	assert.Equal(t, []byte{1}, items[0].raw)
}

func TestSweepStalePendingEvictsAndAnswersServFail(t *testing.T) {
	store := openTestStore(t)
	e := New(Config{RuleCache: rulecache.New(0), RuleStore: store})

	w := newFakeWriter("203.0.113.5:40000", "udp")
	raw := buildQuery(t, "example.com", dnswire.TypeA)
	pq := &PendingQuery{TransactionID: 0x1234, QName: "example.com", Raw: raw, Writer: w, ReceivedAt: time.Now().Add(-10 * time.Second)}
	e.pending[pq.TransactionID] = pq

	e.sweepStalePending()

	e.mu.Lock()
	_, stillPending := e.pending[pq.TransactionID]
	e.mu.Unlock()
	assert.False(t, stillPending)

	resp := w.last()
	require.NotNil(t, resp)
	assert.Equal(t, dnswire.RCodeServFail, dnswire.RCodeFromFlags(mustParseFlags(t, resp)))
}

func TestHandleUpstreamResponseDeliversAndCaches(t *testing.T) {
	store := openTestStore(t)
	respCache := respcache.New(0)
	e := New(Config{
		RuleCache:     rulecache.New(0),
		RuleStore:     store,
		ResponseCache: respCache,
		CacheEnabled:  true,
	})

	w := newFakeWriter("203.0.113.5:40000", "udp")
	rawQuery := buildQuery(t, "example.com", dnswire.TypeA)
	q, err := dnswire.DecodeQuery(rawQuery)
	require.NoError(t, err)

	pq := &PendingQuery{
		TransactionID: q.TransactionID,
		QName:         "example.com",
		Raw:           rawQuery,
		MaxUDPSize:    dnswire.ClientMaxUDPSize(q.Packet()),
		Writer:        w,
		ReceivedAt:    time.Now(),
	}
	e.pending[pq.TransactionID] = pq

	answer := dnswire.Packet{
		Header:    dnswire.Header{ID: q.TransactionID, Flags: dnswire.QRFlag},
		Questions: []dnswire.Question{{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
		Answers: []dnswire.Record{{
			Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN),
			TTL: 300, Data: net.IPv4(93, 184, 216, 34).To4(),
		}},
	}
	raw, err := answer.Marshal()
	require.NoError(t, err)

	e.handleUpstreamResponse("8.8.8.8", raw)

	resp := w.last()
	require.NotNil(t, resp)

	_, _, ok := respCache.Get(respcache.Key{QName: "example.com", QType: dnswire.TypeA})
	assert.True(t, ok)
}
