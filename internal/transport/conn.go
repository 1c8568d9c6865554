package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/wire"
)

const writeTimeout = 10 * time.Second

// Conn frames payloads onto a TCP connection. Writes go through a bounded
// queue drained by a dedicated goroutine; a client too slow to keep up is
// disconnected.
type Conn struct {
	conn      net.Conn
	reader    *bufio.Reader
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
}

func NewConn(conn net.Conn, queueLen int) *Conn {
	c := &Conn{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		queue:    make(chan []byte, queueLen),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadFrame blocks until the next frame arrives. It is only called from
// the connection's reader goroutine.
func (c *Conn) ReadFrame() ([]byte, error) {
	return wire.ReadFrame(c.reader)
}

func (c *Conn) Send(payload []byte) bool {
	frame := wire.AppendFrame(make([]byte, 0, len(payload)+4), payload)
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.queue <- frame:
		return true
	default:
		log.Warn().Str("addr", c.RemoteAddr().String()).Msg("send queue full, dropping connection")
		c.Close()
		return false
	}
}

// Close stops accepting frames, flushes what is already queued and closes
// the socket. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Closed is closed once the socket has been shut down.
func (c *Conn) Closed() <-chan struct{} {
	return c.finished
}

func (c *Conn) writeLoop() {
	defer close(c.finished)
	defer c.conn.Close()

	for {
		select {
		case frame := <-c.queue:
			if !c.write(frame) {
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case frame := <-c.queue:
					if !c.write(frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(frame []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		log.Debug().Err(err).Str("addr", c.RemoteAddr().String()).Msg("stream write failed")
		return false
	}
	return true
}
