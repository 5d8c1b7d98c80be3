package flowio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/hydraflow/internal/dnswire"
	"github.com/jroosing/hydraflow/internal/flowengine"
	"github.com/jroosing/hydraflow/internal/pool"
)

// Socket buffer sizes for high throughput (4 MB each), unchanged from
// the teacher's UDPServer.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// DefaultWorkersPerSocket is the default number of worker goroutines per
// UDP socket.
const DefaultWorkersPerSocket = 1024

var udpBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	return &buf
})

// UDPListener runs the client-facing UDP side of a flow: one
// SO_REUSEPORT socket per CPU core, each with a fixed worker pool
// draining a non-blocking dispatch channel.
type UDPListener struct {
	Logger           *slog.Logger
	Engine           *flowengine.Engine
	WorkersPerSocket int

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

type udpPacket struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run starts one UDP socket per CPU core and blocks until ctx is
// cancelled, then shuts down gracefully.
func (l *UDPListener) Run(ctx context.Context, addr string) error {
	if l.WorkersPerSocket <= 0 {
		l.WorkersPerSocket = DefaultWorkersPerSocket
	}

	socketCount := runtime.NumCPU()
	l.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenUDPReusePort(addr)
		if err != nil {
			for _, c := range l.conns {
				_ = c.Close()
			}
			return err
		}
		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)
		l.conns = append(l.conns, conn)

		packetCh := make(chan udpPacket, l.WorkersPerSocket*2)
		c := conn
		ch := packetCh

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.recvLoop(ctx, c, ch)
		}()
		for range l.WorkersPerSocket {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.workerLoop(ctx, c, ch)
			}()
		}
	}

	<-ctx.Done()
	return l.Stop(5 * time.Second)
}

// RunOnConn runs the listener on an already-open UDP connection, useful
// for tests and callers that manage the socket themselves.
func (l *UDPListener) RunOnConn(ctx context.Context, conn *net.UDPConn) error {
	if l.WorkersPerSocket <= 0 {
		l.WorkersPerSocket = DefaultWorkersPerSocket
	}

	l.conns = []*net.UDPConn{conn}
	packetCh := make(chan udpPacket, l.WorkersPerSocket)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.recvLoop(ctx, conn, packetCh)
	}()
	for range l.WorkersPerSocket {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.workerLoop(ctx, conn, packetCh)
		}()
	}

	<-ctx.Done()
	return nil
}

func (l *UDPListener) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- udpPacket) {
	for {
		bufPtr := udpBufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			udpBufferPool.Put(bufPtr)
			return
		}
		if ctx.Err() != nil {
			udpBufferPool.Put(bufPtr)
			return
		}

		select {
		case out <- udpPacket{bufPtr, n, peer}:
		default:
			udpBufferPool.Put(bufPtr)
		}
	}
}

func (l *UDPListener) workerLoop(ctx context.Context, conn *net.UDPConn, in <-chan udpPacket) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			l.handlePacket(conn, p)
		}
	}
}

func (l *UDPListener) handlePacket(conn *net.UDPConn, p udpPacket) {
	defer udpBufferPool.Put(p.bufPtr)
	if l.Engine == nil {
		return
	}
	payload := make([]byte, p.n)
	copy(payload, (*p.bufPtr)[:p.n])
	l.Engine.HandleQuery(&udpWriter{conn: conn, peer: p.peer}, payload)
}

// Stop closes every socket and waits up to timeout for goroutines to
// exit.
func (l *UDPListener) Stop(timeout time.Duration) error {
	for _, c := range l.conns {
		_ = c.Close()
	}

	if timeout <= 0 {
		l.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp listener: timeout waiting for goroutines to exit")
	}
}

func listenUDPReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
