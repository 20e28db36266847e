package relay

import (
	"context"
	"net"
	"os"

	"github.com/fzft/go-text-relay/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Reactor ties the event loop to process lifetime: it runs the poll
// goroutine and turns an OS signal into context cancellation, then waits for
// the loop to finish its teardown.
type Reactor struct {
	ln         net.Listener
	lnFile     *os.File
	poll       *Poll
	cancelFunc context.CancelFunc
	doneCh     chan struct{}
	signal     chan os.Signal
}

func NewReactor(ln net.Listener, signal chan os.Signal, sink EventSink) (*Reactor, error) {
	r := new(Reactor)
	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})

	// File() hands back a duplicate of the listening fd in blocking mode;
	// the loop needs it non-blocking for the edge-triggered accept drain.
	f, err := ln.(*net.TCPListener).File()
	if err != nil {
		log.Logger.Error("failed to get listener fd", zap.Error(err))
		cancel()
		return nil, err
	}

	lnFd := int(f.Fd())
	if err := unix.SetNonblock(lnFd, true); err != nil {
		log.Logger.Error("failed to set listener nonblocking", zap.Error(err))
		f.Close()
		cancel()
		return nil, err
	}

	poll, err := NewPoll(ctx, doneCh, lnFd, sink)
	if err != nil {
		f.Close()
		cancel()
		return nil, err
	}

	r.poll = poll
	r.ln = ln
	r.lnFile = f
	r.doneCh = doneCh
	r.signal = signal
	r.cancelFunc = cancel

	return r, nil
}

func (r *Reactor) Run() {
	go r.poll.poll()
	defer log.Logger.Info("reactor closed")

	for {
		select {
		case <-r.doneCh:
			r.cancelFunc()
			return
		case sig := <-r.signal:
			log.Logger.Info("signal received", zap.String("signal", sig.String()))
			r.cancelFunc()
			r.poll.wake()
			<-r.doneCh
			return
		}
	}
}

// Shutdown cancels the loop, kicks it out of its wait and blocks until it
// has released the listener and all connections. Only meaningful once Run
// has started the loop.
func (r *Reactor) Shutdown() {
	r.cancelFunc()
	r.poll.wake()
	<-r.doneCh
}
