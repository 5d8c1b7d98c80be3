package upstreampool

import (
	"net"
	"sync"
	"time"

	"github.com/jroosing/hydraflow/internal/helpers"
)

// Pool owns one UpstreamConnection per configured server address,
// created lazily on first use (§4.6: "answers get_or_create(server)").
type Pool struct {
	mu             sync.Mutex
	conns          map[string]*UpstreamConnection
	maxRetries     int
	initialBackoff time.Duration
	onReceive      ReceiveFunc
}

// New creates a pool. maxRetries is clamped to [MinMaxRetries,
// MaxMaxRetries] and initialBackoff to [MinInitialBackoff,
// MaxInitialBackoff], per §4.6's configuration bounds.
func New(maxRetries int, initialBackoff time.Duration, onReceive ReceiveFunc) *Pool {
	maxRetries = helpers.ClampInt(maxRetries, MinMaxRetries, MaxMaxRetries)
	if initialBackoff < MinInitialBackoff {
		initialBackoff = MinInitialBackoff
	}
	if initialBackoff > MaxInitialBackoff {
		initialBackoff = MaxInitialBackoff
	}
	return &Pool{
		conns:          make(map[string]*UpstreamConnection),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		onReceive:      onReceive,
	}
}

// GetOrCreate returns the connection for server, dialing one if none
// exists yet or if the existing one is Closed.
func (p *Pool) GetOrCreate(server string) (*UpstreamConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if uc, ok := p.conns[server]; ok && uc.State() != Closed {
		return uc, nil
	}

	uc, err := dial(server, net.JoinHostPort(server, "53"), p.maxRetries, p.initialBackoff, p.onReceive)
	if err != nil {
		return nil, err
	}
	p.conns[server] = uc
	return uc, nil
}

// Lookup returns the existing connection for server without creating
// one, for callers (such as chain-preservation routing) that must not
// trigger a fresh dial.
func (p *Pool) Lookup(server string) (*UpstreamConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uc, ok := p.conns[server]
	return uc, ok
}

// CloseAll closes every connection and clears the pool. Called on
// path-change events (VPN state flip, interface change); the flow
// engine re-acquires connections via GetOrCreate on the next query.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, uc := range p.conns {
		_ = uc.Close()
	}
	p.conns = make(map[string]*UpstreamConnection)
}
