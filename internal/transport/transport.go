// Package transport adapts TCP connections and the shared UDP socket to
// the stream and datagram handles sessions work with.
package transport

import "net"

// Stream is the control channel of one client. Send never blocks.
type Stream interface {
	Send(payload []byte) bool
	Close()
	RemoteAddr() net.Addr
}

// Datagram is the connectionless endpoint a client announced its token from.
type Datagram interface {
	Addr() *net.UDPAddr
	Send(payload []byte) error
}
