package transport

import "net"

// PacketWriter is the sending half of a UDP socket.
type PacketWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Endpoint is a remote address reached through the shared UDP socket.
type Endpoint struct {
	writer PacketWriter
	addr   *net.UDPAddr
}

func NewEndpoint(writer PacketWriter, addr *net.UDPAddr) *Endpoint {
	return &Endpoint{writer: writer, addr: addr}
}

func (e *Endpoint) Addr() *net.UDPAddr {
	return e.addr
}

func (e *Endpoint) Send(payload []byte) error {
	_, err := e.writer.WriteToUDP(payload, e.addr)
	return err
}
