package flowengine

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/jroosing/hydraflow/internal/dnswire"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
	"github.com/jroosing/hydraflow/internal/upstreampool"
)

// HandleQuery runs the per-query pipeline (§4.5) for one raw request
// arriving on writer. While the engine is in Transition, the query is
// buffered instead and redispatched once the engine returns to Running.
func (e *Engine) HandleQuery(writer ClientWriter, raw []byte) {
	if e.State() == Transition {
		if dropped, ok := e.transition.enqueue(writer, raw); ok && dropped != nil && e.logger != nil {
			e.logger.Warn("transition queue overflow, dropped oldest query")
		}
		return
	}

	// Step 2: decode. A malformed request still gets a best-effort
	// FORMERR if enough of it parsed to recover a transaction ID.
	q, err := dnswire.DecodeQuery(raw)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("query decode failed", "err", err)
		}
		if resp := dnswire.SynthesizeFormatError(raw); resp != nil {
			_ = writer.WriteResponse(resp)
		}
		return
	}
	qname, qtype := q.QName, q.QType
	atomic.AddInt64(&e.telemetry.TotalQueries, 1)

	// Step 1: reachability gate, ahead of the normal cache/rule path.
	if e.reachable != nil && !e.reachable() {
		if resp, ok := e.serveFromCache(qname, qtype, q.TransactionID); ok {
			atomic.AddInt64(&e.telemetry.CacheHits, 1)
			_ = writer.WriteResponse(resp)
			return
		}
		atomic.AddInt64(&e.telemetry.ServfailsSynthesized, 1)
		_ = writer.WriteResponse(dnswire.SynthesizeServFail(q))
		return
	}

	// Step 3: response cache.
	if e.cacheEnabled && !e.policy.Disabled {
		if resp, ok := e.serveFromCache(qname, qtype, q.TransactionID); ok {
			atomic.AddInt64(&e.telemetry.CacheHits, 1)
			_ = writer.WriteResponse(resp)
			return
		}
	}

	// Step 4: query telemetry.
	if e.ruleStore != nil {
		e.ruleStore.RecordQuery(qname)
	}

	// Step 5 & 6: rule consult and block/allow branch.
	action := e.resolveAction(qname)
	if action == rulecache.Block {
		atomic.AddInt64(&e.telemetry.Blocked, 1)
		resp := syntheticBlockResponse(q, qtype)
		_ = writer.WriteResponse(resp)
		return
	}

	// Steps 7-9: register pending state, pick an upstream, send. The
	// upstream-bound copy of raw carries our own EDNS OPT (added only if
	// the client didn't already send one) so a same-or-larger response
	// comes back over one UDP datagram instead of requiring TC/retry.
	pq := &PendingQuery{
		TransactionID: q.TransactionID,
		QName:         qname,
		QType:         uint16(qtype),
		Raw:           dnswire.AddEDNSToRequestBytes(q.Packet(), raw, dnswire.EDNSDefaultUDPPayloadSize),
		MaxUDPSize:    dnswire.ClientMaxUDPSize(q.Packet()),
		Writer:        writer,
		ReceivedAt:    time.Now(),
	}
	if resolver, ok := originalResolverOf(writer, e.policy); ok {
		pq.OriginalResolver = resolver
	}

	e.mu.Lock()
	e.pending[pq.TransactionID] = pq
	e.mu.Unlock()

	e.dispatchToUpstream(pq)
}

// serveFromCache looks up the response cache and, on a hit, rewrites the
// transaction ID and decrements the TTL by the entry's age.
func (e *Engine) serveFromCache(qname string, qtype dnswire.RecordType, txID uint16) ([]byte, bool) {
	if e.respCache == nil {
		return nil, false
	}
	cached, age, ok := e.respCache.Get(respcache.Key{QName: qname, QType: qtype})
	if !ok {
		return nil, false
	}
	out, err := respcache.Serve(cached, age, txID)
	if err != nil {
		return nil, false
	}
	return out, true
}

// resolveAction consults the rule cache, falling back to the rule store
// and memoizing the result with an adaptive TTL (§4.5 step 5).
func (e *Engine) resolveAction(qname string) rulecache.Action {
	if e.ruleCache != nil {
		if entry, ok := e.ruleCache.Get(qname); ok {
			return entry.Action
		}
	}

	action := rulecache.NoRule
	if e.ruleStore != nil {
		if _, storeAction, found := e.ruleStore.RuleFor(qname); found {
			if storeAction == rulestore.Allow {
				action = rulecache.Allow
			} else {
				action = rulecache.Block
			}
		}
	}

	if e.ruleCache != nil {
		queryCount := int64(0)
		if e.ruleStore != nil {
			queryCount = e.ruleStore.QueryCount(qname)
		}
		e.ruleCache.Set(qname, action, queryCount)
	}
	return action
}

// syntheticBlockResponse picks the synthetic answer by qtype (§4.5 step
// 6): A resolves to 127.0.0.1, AAAA resolves to an empty NOERROR, anything
// else is NXDOMAIN.
func syntheticBlockResponse(q dnswire.Query, qtype dnswire.RecordType) []byte {
	switch qtype {
	case dnswire.TypeA:
		return dnswire.SynthesizeBlockA(q)
	case dnswire.TypeAAAA:
		return dnswire.SynthesizeBlockAAAA(q)
	default:
		return dnswire.SynthesizeNXDomain(q)
	}
}

// originalResolverOf recognizes a client endpoint as a VPN-side resolver
// worth chain-preserving (§4.5 step 7): its source port is 53, or its
// address falls in a VPN CIDR.
func originalResolverOf(writer ClientWriter, policy respcache.Policy) (string, bool) {
	host, port := splitHostPort(writer.RemoteAddr())
	if port == 53 {
		return host, true
	}
	if ip := net.ParseIP(host); ip != nil && policy.InVPNRange(ip) {
		return host, true
	}
	return "", false
}

// dispatchToUpstream implements §4.5 step 8-9: pick the original resolver
// if chain-preserved, else the first configured upstream, handling a
// not-yet-Connected connection with the deadline/retry/failover rules.
func (e *Engine) dispatchToUpstream(pq *PendingQuery) {
	server := pq.OriginalResolver
	if server == "" {
		if len(e.upstreams) == 0 {
			e.failPending(pq)
			return
		}
		server = e.upstreams[pq.NextUpstreamIdx]
	}

	uc, err := e.pool.GetOrCreate(server)
	if err == nil && uc.State() == upstreampool.Connected {
		if sendErr := uc.Send(pq.Raw); sendErr != nil {
			e.retryOrFail(pq)
			return
		}
		e.mu.Lock()
		pq.UpstreamServer = server
		e.mu.Unlock()
		return
	}
	e.retryOrFail(pq)
}

// retryOrFail applies §4.5 step 8's deadline/failover/retry rules when
// the chosen upstream connection was not Connected.
func (e *Engine) retryOrFail(pq *PendingQuery) {
	if time.Since(pq.ReceivedAt) >= failoverChainDeadline {
		e.failPending(pq)
		return
	}

	if pq.OriginalResolver != "" {
		time.AfterFunc(failoverRetryDelay, func() { e.retryDispatch(pq) })
		return
	}

	next := pq.NextUpstreamIdx + 1
	if next < len(e.upstreams) {
		pq.NextUpstreamIdx = next
		if uc, ok := e.pool.Lookup(e.upstreams[next]); ok && uc.State() == upstreampool.Connected {
			e.dispatchToUpstream(pq)
			return
		}
	}
	time.AfterFunc(failoverRetryDelay, func() { e.retryDispatch(pq) })
}

// retryDispatch re-attempts dispatch for a PendingQuery still tracked as
// pending; a query already delivered or evicted is a no-op.
func (e *Engine) retryDispatch(pq *PendingQuery) {
	e.mu.Lock()
	_, stillPending := e.pending[pq.TransactionID]
	e.mu.Unlock()
	if !stillPending {
		return
	}
	e.dispatchToUpstream(pq)
}

// failPending synthesizes SERVFAIL for a query that exhausted its
// failover deadline, evicting its PendingQuery state.
func (e *Engine) failPending(pq *PendingQuery) {
	e.mu.Lock()
	delete(e.pending, pq.TransactionID)
	e.mu.Unlock()

	q, err := dnswire.DecodeQuery(pq.Raw)
	if err != nil {
		return
	}
	atomic.AddInt64(&e.telemetry.ServfailsSynthesized, 1)
	_ = pq.Writer.WriteResponse(dnswire.SynthesizeServFail(q))
}

// handleUpstreamResponse is the upstream read callback (§4.5 "Upstream
// response pipeline"): it matches the response back to its PendingQuery
// by transaction ID, applies the do-not-cache policy, and writes the
// answer to the originating flow.
func (e *Engine) handleUpstreamResponse(server string, data []byte) {
	idBytes, err := dnswire.ExtractTransactionID(data)
	if err != nil {
		return
	}
	txID := uint16(idBytes[0])<<8 | uint16(idBytes[1])

	e.mu.Lock()
	pq, ok := e.pending[txID]
	if ok {
		delete(e.pending, txID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	if pkt, err := dnswire.ParsePacket(data); err == nil {
		e.applyCachePolicy(pkt, pq.QName, server, data)
	}

	e.deliver(pq, data)
}

func (e *Engine) applyCachePolicy(pkt dnswire.Packet, qname, server string, raw []byte) {
	if e.respCache == nil || !e.cacheEnabled {
		return
	}
	upstreamIP := net.ParseIP(server)
	ok, _ := e.policy.ShouldCache(pkt, qname, upstreamIP)
	if !ok {
		return
	}
	ttl, ok := respcache.ComputeTTL(pkt)
	if !ok {
		return
	}
	qtype := uint16(0)
	if len(pkt.Questions) > 0 {
		qtype = pkt.Questions[0].Type
	}
	e.respCache.Set(respcache.Key{QName: qname, QType: dnswire.RecordType(qtype)}, raw, ttl)
}

// deliver writes raw upstream bytes to the flow that asked for them,
// truncating for UDP if the response exceeds the client's advertised max
// UDP size (EDNS OPT payload size if it sent one, else the classic
// 512-byte limit) (§4.5 step 5 of the upstream response pipeline).
func (e *Engine) deliver(pq *PendingQuery, data []byte) {
	if pq.Writer.Transport() == "udp" && len(data) > pq.MaxUDPSize {
		data = dnswire.SynthesizeTruncatedFrom(data)
	}
	_ = pq.Writer.WriteResponse(data)
}
