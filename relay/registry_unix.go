//go:build linux
// +build linux

package relay

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	listenerEvents = unix.EPOLLIN | unix.EPOLLET
	connEvents     = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLET
)

// Registry pairs the epoll instance with the table of connections registered
// to it. Invariant: the table keys are exactly the fds epoll watches, the
// loop-owned listener and wake fds excluded. Only the loop goroutine reads
// or writes it, so there is no locking.
type Registry struct {
	epollFd int
	conns   map[int]*Conn
}

func NewRegistry(epollFd int) *Registry {
	return &Registry{
		epollFd: epollFd,
		conns:   make(map[int]*Conn),
	}
}

// AddRead registers fd to epoll with the given edge-triggered event mask.
func (r *Registry) AddRead(fd int, events uint32) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events}))
}

// Delete removes fd from epoll. EPOLL_CTL_DEL with a nil event is the
// canonical remove on kernels past 2.6.9.
func (r *Registry) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil))
}

// Register puts conn under epoll watch and into the table. On epoll failure
// the socket is closed immediately so no half-registered state survives.
func (r *Registry) Register(conn *Conn) error {
	if err := r.AddRead(conn.fd, connEvents); err != nil {
		unix.Close(conn.fd)
		return err
	}
	r.conns[conn.fd] = conn
	return nil
}

// Unregister removes fd from both epoll and the table, returning the removed
// connection. Calling it twice for the same fd within one event batch is
// safe: the second call reports !ok and touches nothing. The table entry goes
// away even if the kernel delete fails, since keeping it would leave the
// teardown path re-entrant for a dead fd.
func (r *Registry) Unregister(fd int) (*Conn, bool) {
	conn, ok := r.conns[fd]
	if !ok {
		return nil, false
	}
	r.Delete(fd)
	delete(r.conns, fd)
	return conn, true
}

// Lookup finds the connection registered under fd.
func (r *Registry) Lookup(fd int) (*Conn, bool) {
	conn, ok := r.conns[fd]
	return conn, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// CloseAll deletes and closes every registered connection, collecting
// failures rather than stopping at the first.
func (r *Registry) CloseAll() error {
	var errs MultiError

	for fd, conn := range r.conns {
		if err := r.Delete(fd); err != nil {
			errs = append(errs, fmt.Errorf("delete fd %d: %w", fd, err))
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}
		delete(r.conns, fd)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
