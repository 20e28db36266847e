//go:build linux
// +build linux

package relay

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkEvent struct {
	kind    string
	addr    string
	payload []byte
}

// captureSink records every event the loop reports. The mutex is only for
// the test goroutine's reads; the loop itself is single-threaded.
type captureSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *captureSink) Connected(addr string) {
	s.record("connect", addr, nil)
}

func (s *captureSink) Data(addr string, payload []byte) {
	s.record("data", addr, payload)
}

func (s *captureSink) Disconnected(addr string) {
	s.record("disconnect", addr, nil)
}

func (s *captureSink) record(kind, addr string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{kind: kind, addr: addr, payload: payload})
}

func (s *captureSink) eventsFor(addr string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, ev := range s.events {
		if ev.addr == addr {
			out = append(out, ev)
		}
	}
	return out
}

func (s *captureSink) kindsFor(addr string) []string {
	var out []string
	for _, ev := range s.eventsFor(addr) {
		out = append(out, ev.kind)
	}
	return out
}

// payloadFor concatenates all drained chunks for addr, in arrival order.
func (s *captureSink) payloadFor(addr string) []byte {
	var buf bytes.Buffer
	for _, ev := range s.eventsFor(addr) {
		if ev.kind == "data" {
			buf.Write(ev.payload)
		}
	}
	return buf.Bytes()
}

func startServer(t *testing.T) (*Server, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	s := NewServer("127.0.0.1:0")
	s.SetSink(sink)
	require.NoError(t, s.Listen())
	go s.Serve()
	t.Cleanup(s.Shutdown)
	return s, sink
}

func dialServer(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	return conn
}

func TestServerRelaysClientData(t *testing.T) {
	s, sink := startServer(t)

	conn := dialServer(t, s)
	defer conn.Close()
	addr := conn.LocalAddr().String()

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return string(sink.payloadFor(addr)) == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	kinds := sink.kindsFor(addr)
	require.NotEmpty(t, kinds)
	assert.Equal(t, "connect", kinds[0])
}

func TestServerReportsDisconnectAfterData(t *testing.T) {
	s, sink := startServer(t)

	conn := dialServer(t, s)
	addr := conn.LocalAddr().String()

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		kinds := sink.kindsFor(addr)
		return len(kinds) > 0 && kinds[len(kinds)-1] == "disconnect"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hello", string(sink.payloadFor(addr)))

	// Nothing may be reported for a peer past its disconnect.
	kinds := sink.kindsFor(addr)
	assert.Equal(t, "connect", kinds[0])
	for _, kind := range kinds[1 : len(kinds)-1] {
		assert.Equal(t, "data", kind)
	}
}

func TestServerAcceptsNearSimultaneousConnections(t *testing.T) {
	s, sink := startServer(t)

	conns := make([]net.Conn, 3)
	for i := range conns {
		conns[i] = dialServer(t, s)
		defer conns[i].Close()
	}

	// Edge-triggered accept may get one notification for all three; the
	// accept drain must still register each as a distinct connection.
	require.Eventually(t, func() bool {
		seen := make(map[string]bool)
		for _, c := range conns {
			kinds := sink.kindsFor(c.LocalAddr().String())
			if len(kinds) == 0 || kinds[0] != "connect" {
				return false
			}
			seen[c.LocalAddr().String()] = true
		}
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	for i, c := range conns {
		payload := []byte{byte('a' + i)}
		_, err := c.Write(payload)
		require.NoError(t, err)
	}

	for i, c := range conns {
		want := string(byte('a' + i))
		require.Eventually(t, func() bool {
			return string(sink.payloadFor(c.LocalAddr().String())) == want
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestServerConnectThenImmediateClose(t *testing.T) {
	s, sink := startServer(t)

	conn := dialServer(t, s)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		kinds := sink.kindsFor(addr)
		return len(kinds) == 2 && kinds[0] == "connect" && kinds[1] == "disconnect"
	}, 2*time.Second, 10*time.Millisecond)
}

// Two bursts written back to back may coalesce into a single readiness
// notification; the drain loop must still deliver every byte exactly once.
func TestServerDrainsCoalescedBursts(t *testing.T) {
	s, sink := startServer(t)

	conn := dialServer(t, s)
	defer conn.Close()
	addr := conn.LocalAddr().String()

	first := bytes.Repeat([]byte("x"), 2000)
	second := bytes.Repeat([]byte("y"), 2000)

	_, err := conn.Write(first)
	require.NoError(t, err)
	_, err = conn.Write(second)
	require.NoError(t, err)

	want := append(append([]byte(nil), first...), second...)
	require.Eventually(t, func() bool {
		return bytes.Equal(sink.payloadFor(addr), want)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerShutdownStopsServe(t *testing.T) {
	sink := &captureSink{}
	s := NewServer("127.0.0.1:0")
	s.SetSink(sink)
	require.NoError(t, s.Listen())

	done := make(chan struct{})
	go func() {
		s.Serve()
		close(done)
	}()

	// Prove the loop is live, then let it go fully idle: once the peer's
	// teardown is reported, no fd event is pending, so only the shutdown
	// wakeup can end the wait early.
	conn := dialServer(t, s)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		kinds := sink.kindsFor(addr)
		return len(kinds) > 0 && kinds[len(kinds)-1] == "disconnect"
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	s.Shutdown()
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop after shutdown")
	}
}

func TestServerStartupFailureOnBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(ln.Addr().String())
	assert.Error(t, s.Listen())
}
