package relay

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fzft/go-text-relay/log"
	"go.uber.org/zap"
)

// DefaultAddr is where the server listens when nothing else is asked for.
const DefaultAddr = ":51717"

type Server struct {
	addr    string
	sink    EventSink
	ln      net.Listener
	reactor *Reactor
}

func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
	}
}

// SetSink replaces the default zap-backed sink. Must be called before Listen.
func (s *Server) SetSink(sink EventSink) {
	s.sink = sink
}

// Run binds the listener and serves until a signal arrives or the loop dies.
// Any error is a startup failure; there is no partial-start recovery.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the address and builds the reactor without starting the loop.
func (s *Server) Listen() error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Logger.Error("listen error", zap.Error(err))
		return err
	}

	if s.sink == nil {
		s.sink = zapSink{}
	}

	reactor, err := NewReactor(ln, signals, s.sink)
	if err != nil {
		ln.Close()
		return err
	}

	s.ln = ln
	s.reactor = reactor
	return nil
}

// Serve runs the event loop to completion. Blocking.
func (s *Server) Serve() error {
	defer s.ln.Close()

	log.Logger.Info("listening", zap.String("addr", s.ln.Addr().String()))
	s.reactor.Run()
	log.Logger.Info("shutting down server")
	return nil
}

// Addr reports the bound address; useful with a ":0" listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown stops a serving loop and waits for its teardown.
func (s *Server) Shutdown() {
	if s.reactor != nil {
		s.reactor.Shutdown()
	}
}
