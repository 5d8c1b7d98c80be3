// Package flowio adapts raw UDP sockets and TCP connections to the
// flowengine.ClientWriter interface flowengine.Engine expects, and runs the
// SO_REUSEPORT multi-socket listener loops that feed it.
//
// Grounded in the teacher's internal/server package (udp_server.go,
// tcp_server.go): the SO_REUSEPORT-per-core socket model, fixed
// worker-pool dispatch, and length-prefixed TCP framing are kept
// verbatim in shape, re-pointed at flowengine.Engine.HandleQuery instead
// of server.QueryHandler.Handle.
package flowio

import (
	"net"
)

// udpWriter delivers a response to a UDP peer on a shared socket.
type udpWriter struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

func (w *udpWriter) WriteResponse(data []byte) error {
	_, err := w.conn.WriteToUDP(data, w.peer)
	return err
}

func (w *udpWriter) RemoteAddr() string { return w.peer.String() }
func (w *udpWriter) Transport() string  { return "udp" }

// tcpWriter delivers a response on a length-prefixed TCP connection
// (§4.5 "TCP fast path": "response is written as u16be(length) ||
// response").
type tcpWriter struct {
	conn net.Conn
}

func (w *tcpWriter) WriteResponse(data []byte) error {
	return writeMessage(w.conn, data)
}

func (w *tcpWriter) RemoteAddr() string { return w.conn.RemoteAddr().String() }
func (w *tcpWriter) Transport() string  { return "tcp" }
