// Package upstreampool manages one persistent, stateful connection per
// upstream DNS server (§4.6). Unlike the teacher's forwarding resolver,
// which dials a transient or pooled connection per query and blocks on
// the read, an UpstreamConnection here lives for as long as the server
// is configured: it owns a long-running reader that publishes every
// datagram to a callback, and a serial send queue so writes from many
// concurrent callers never interleave.
package upstreampool

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// State is an UpstreamConnection's lifecycle state.
type State int32

const (
	Connecting State = iota
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Defaults and bounds for retry/backoff configuration (§4.6).
const (
	DefaultMaxRetries      = 3
	MinMaxRetries          = 0
	MaxMaxRetries          = 10
	DefaultInitialBackoff  = 250 * time.Millisecond
	MinInitialBackoff      = 50 * time.Millisecond
	MaxInitialBackoff      = 5000 * time.Millisecond
	sendQueueDepth         = 256
	udpReceiveBufferSize   = 4096
)

// ReceiveFunc is called with every datagram an UpstreamConnection reads,
// tagged with the server address it came from.
type ReceiveFunc func(server string, data []byte)

// UpstreamConnection is a single persistent socket to one upstream DNS
// server, serial sender, and self-reconnecting reader.
type UpstreamConnection struct {
	server          string
	addr            *net.UDPAddr
	maxRetries      int
	initialBackoff  time.Duration
	onReceive       ReceiveFunc

	state   atomic.Int32
	conn    atomic.Pointer[net.UDPConn]
	sendCh  chan []byte
	stopCh  chan struct{}
}

// dial resolves the address and binds the socket once. On success it
// marks the connection Connected (a successful bind counts, per §4.6)
// and starts the reader and sender goroutines; on a failed bind it
// returns the connection in the Failed state together with the error.
// Reconnects with exponential backoff happen only after an I/O error,
// in handleIOError.
func dial(server, dialAddr string, maxRetries int, initialBackoff time.Duration, onReceive ReceiveFunc) (*UpstreamConnection, error) {
	addr, err := net.ResolveUDPAddr("udp", dialAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream %s: %w", server, err)
	}

	uc := &UpstreamConnection{
		server:         server,
		addr:           addr,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		onReceive:      onReceive,
		sendCh:         make(chan []byte, sendQueueDepth),
		stopCh:         make(chan struct{}),
	}
	uc.state.Store(int32(Connecting))

	if err := uc.bind(); err != nil {
		uc.state.Store(int32(Failed))
		return uc, err
	}
	uc.state.Store(int32(Connected))

	go uc.readLoop()
	go uc.sendLoop()
	return uc, nil
}

func (uc *UpstreamConnection) bind() error {
	c, err := net.DialUDP("udp", nil, uc.addr)
	if err != nil {
		return err
	}
	uc.conn.Store(c)
	return nil
}

// State returns the connection's current lifecycle state.
func (uc *UpstreamConnection) State() State {
	return State(uc.state.Load())
}

// Server returns the upstream server address this connection targets.
func (uc *UpstreamConnection) Server() string {
	return uc.server
}

// Send enqueues data on the connection's serial send queue. It is
// fire-and-forget: Send returns once the bytes are handed to the queue,
// not once written to the OS (§4.6).
func (uc *UpstreamConnection) Send(data []byte) error {
	if uc.State() == Closed {
		return fmt.Errorf("upstream connection to %s is closed", uc.server)
	}
	select {
	case uc.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("upstream connection to %s: send queue full", uc.server)
	}
}

func (uc *UpstreamConnection) sendLoop() {
	for {
		select {
		case <-uc.stopCh:
			return
		case data := <-uc.sendCh:
			c := uc.conn.Load()
			if c == nil {
				continue
			}
			if _, err := c.Write(data); err != nil {
				uc.handleIOError(err)
			}
		}
	}
}

func (uc *UpstreamConnection) readLoop() {
	buf := make([]byte, udpReceiveBufferSize)
	for {
		select {
		case <-uc.stopCh:
			return
		default:
		}

		c := uc.conn.Load()
		if c == nil {
			return
		}
		n, err := c.Read(buf)
		if err != nil {
			if uc.handleIOError(err) {
				continue
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if uc.onReceive != nil {
			uc.onReceive(uc.server, data)
		}
	}
}

// handleIOError marks the connection Failed and attempts up to
// maxRetries reconnects with exponential backoff from initialBackoff.
// Returns true if a reconnect succeeded and the caller should keep
// reading, false if the connection should be considered permanently
// failed.
func (uc *UpstreamConnection) handleIOError(_ error) bool {
	uc.state.Store(int32(Failed))

	backoff := uc.initialBackoff
	for attempt := 0; attempt < uc.maxRetries; attempt++ {
		select {
		case <-uc.stopCh:
			return false
		case <-time.After(backoff):
		}

		if err := uc.bind(); err == nil {
			uc.state.Store(int32(Connected))
			return true
		}
		backoff *= 2
	}
	return false
}

// Close shuts down the connection permanently.
func (uc *UpstreamConnection) Close() error {
	if uc.State() == Closed {
		return nil
	}
	uc.state.Store(int32(Closed))
	close(uc.stopCh)
	if c := uc.conn.Load(); c != nil {
		return c.Close()
	}
	return nil
}
