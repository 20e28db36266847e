//go:build linux
// +build linux

package relay

import (
	"errors"
	"net"
	"strconv"

	"github.com/fzft/go-text-relay/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// drainChunk is the size of the reusable read buffer. Payloads larger than
// this arrive at the sink as multiple chunks.
const drainChunk = 1024

// Conn is the event loop's record of one accepted socket. It is created on
// accept, owned by the loop for its whole lifetime, and only ever touched
// from the loop goroutine.
type Conn struct {
	fd   int
	addr string
}

// Fd returns the file descriptor of the connection.
func (c *Conn) Fd() int {
	return c.fd
}

// Addr returns the peer address of the connection.
func (c *Conn) Addr() string {
	return c.addr
}

// Drain reads everything currently available on the socket, forwarding each
// chunk to sink. Edge-triggered notifications only fire on transitions, so
// the read loop must run until EAGAIN before the loop waits again or data
// already in the socket buffer is never reported.
//
// The return value reports an orderly peer shutdown (zero-byte read) or a
// read error; the caller must tear the connection down when it is true.
func (c *Conn) Drain(buf []byte, sink EventSink) (closed bool) {
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.Data(c.addr, chunk)
			continue
		}

		switch {
		case err == nil:
			// Zero bytes: the peer finished sending.
			return true
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			// Nothing more right now; the next readiness event resumes us.
			return false
		default:
			// A failed read ends the connection like a peer close; logged
			// here, not propagated.
			log.Logger.Warn("read error", zap.Int("fd", c.fd), zap.String("addr", c.addr), zap.Error(err))
			return true
		}
	}
}

// Close closes the transport handle.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// sockaddrString renders the peer address returned by accept as host:port.
func sockaddrString(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
		return net.JoinHostPort(ip.String(), strconv.Itoa(addr.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(addr.Addr[:]).String(), strconv.Itoa(addr.Port))
	default:
		return "unknown"
	}
}
