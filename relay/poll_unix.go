//go:build linux
// +build linux

package relay

import (
	"context"

	"github.com/fzft/go-text-relay/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	// waitTimeoutMs bounds how long the loop sits in epoll_wait, so context
	// cancellation is observed within one timeout even with an idle socket
	// set. Not a correctness knob.
	waitTimeoutMs = 60 * 1000

	initialEventCap = 128
)

// Poll owns the epoll instance, the listener fd and the connection registry,
// and runs the readiness loop on a single goroutine. Accept, drain and
// teardown all run to completion inside one loop iteration, so nothing here
// needs synchronization.
type Poll struct {
	ctx    context.Context
	doneCh chan struct{}

	registry *Registry
	epollFd  int
	lnFd     int
	wakeFd   int
	sink     EventSink
	readBuf  []byte
}

func NewPoll(ctx context.Context, doneCh chan struct{}, lnFd int, sink EventSink) (*Poll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("failed to create epoll", zap.Error(err))
		return nil, err
	}

	r := NewRegistry(epfd)

	// The listener is watched like any other fd; its readiness means "a
	// connection is pending" rather than "bytes are pending".
	if err := r.AddRead(lnFd, listenerEvents); err != nil {
		log.Logger.Error("failed to add listener to epoll", zap.Error(err))
		unix.Close(epfd)
		return nil, err
	}

	// The wake eventfd lets cancellation interrupt epoll_wait instead of
	// waiting out the timeout on an idle socket set.
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("failed to create wake eventfd", zap.Error(err))
		unix.Close(epfd)
		return nil, err
	}

	if err := r.AddRead(wakeFd, unix.EPOLLIN|unix.EPOLLET); err != nil {
		log.Logger.Error("failed to add wake eventfd to epoll", zap.Error(err))
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}

	poll := &Poll{
		ctx:      ctx,
		doneCh:   doneCh,
		registry: r,
		epollFd:  epfd,
		lnFd:     lnFd,
		wakeFd:   wakeFd,
		sink:     sink,
		readBuf:  make([]byte, drainChunk),
	}

	return poll, nil
}

// wake forces the loop out of epoll_wait so a cancelled context is observed
// immediately rather than at the next wait timeout.
func (p *Poll) wake() {
	buf := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	unix.Write(p.wakeFd, buf)
}

func (p *Poll) poll() {
	events := make([]unix.EpollEvent, initialEventCap)

	defer close(p.doneCh)
	defer p.closeGracefully()

	for {
		select {
		case <-p.ctx.Done():
			log.Logger.Info("stop requested, exiting event loop")
			return
		default:
		}

		// n == 0 means the wait timed out with nothing ready; loop back to
		// the cancellation check above.
		n, err := unix.EpollWait(p.epollFd, events, waitTimeoutMs)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			continue
		} else if err != nil {
			log.Logger.Error("epoll wait error", zap.Error(err))
			return
		}

		for i := 0; i < n; i++ {
			p.processEvent(int(events[i].Fd), &events[i])
		}

		// A full batch hints at more ready fds than the slice holds.
		if n == len(events) {
			events = make([]unix.EpollEvent, 2*len(events))
		}
	}
}

func (p *Poll) processEvent(fd int, ev *unix.EpollEvent) {
	if fd == p.wakeFd {
		// Reset the eventfd counter; the loop-top cancellation check decides
		// whether this wakeup means exit.
		var buf [8]byte
		unix.Read(p.wakeFd, buf[:])
		return
	}

	if fd == p.lnFd {
		p.acceptAll()
		return
	}

	conn, ok := p.registry.Lookup(fd)
	if !ok {
		// Torn down earlier in this batch; the kernel may still have queued
		// an event for the old registration.
		return
	}

	closed := false
	if ev.Events&unix.EPOLLIN != 0 {
		closed = conn.Drain(p.readBuf, p.sink)
	}

	// Any final bytes were drained above, so teardown is safe whether it was
	// triggered by the zero-byte read or by the close/error flags.
	if closed || ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		p.teardown(fd)
	}
}

// acceptAll drains the accept queue. Under edge-triggered delivery a single
// accept per wakeup can strand queued connections, so the loop runs until
// EAGAIN. A wakeup with nothing pending is a spurious wake and falls out the
// same way.
func (p *Poll) acceptAll() {
	for {
		connFd, sa, err := unix.Accept(p.lnFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			log.Logger.Error("accept error", zap.Error(err))
			return
		}

		if err := unix.SetNonblock(connFd, true); err != nil {
			log.Logger.Error("set nonblock error", zap.Int("fd", connFd), zap.Error(err))
			unix.Close(connFd)
			continue
		}

		conn := &Conn{fd: connFd, addr: sockaddrString(sa)}
		if err := p.registry.Register(conn); err != nil {
			// Register already closed the fd; the connection is simply
			// dropped rather than left half-registered.
			log.Logger.Error("register error", zap.Int("fd", connFd), zap.Error(err))
			continue
		}

		log.Logger.Debug("new connection", zap.Int("fd", connFd), zap.String("addr", conn.addr))
		p.sink.Connected(conn.addr)
	}
}

// teardown unregisters, closes and reports one connection. Idempotent within
// an event batch: the registry presence check means a readable-then-zero-
// bytes drain and a separate EPOLLRDHUP for the same fd close it exactly
// once.
func (p *Poll) teardown(fd int) {
	conn, ok := p.registry.Unregister(fd)
	if !ok {
		return
	}

	if err := conn.Close(); err != nil {
		log.Logger.Warn("close error", zap.Int("fd", fd), zap.Error(err))
	}

	log.Logger.Debug("connection closed", zap.Int("fd", fd), zap.String("addr", conn.addr))
	p.sink.Disconnected(conn.addr)
}

// closeGracefully order: listener fd, wake fd, all connections, epoll fd.
func (p *Poll) closeGracefully() {
	if err := p.registry.Delete(p.lnFd); err != nil {
		log.Logger.Warn("failed to delete listener from epoll", zap.Error(err))
	}

	if err := unix.Close(p.lnFd); err != nil {
		log.Logger.Warn("failed to close listener", zap.Error(err))
	}

	if err := p.registry.Delete(p.wakeFd); err != nil {
		log.Logger.Warn("failed to delete wake eventfd from epoll", zap.Error(err))
	}

	if err := unix.Close(p.wakeFd); err != nil {
		log.Logger.Warn("failed to close wake eventfd", zap.Error(err))
	}

	if err := p.registry.CloseAll(); err != nil {
		log.Logger.Warn("failed to close connections", zap.Error(err))
	}

	if err := unix.Close(p.epollFd); err != nil {
		log.Logger.Warn("failed to close epoll", zap.Error(err))
	}
}
