package cli

import (
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendStripsTrailingNewline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := Dial(&ConnInfo{HostIP: host, HostPort: port})
	require.NoError(t, err)

	srv := <-accepted
	defer srv.Close()

	require.NoError(t, client.Send("hello\n"))
	require.NoError(t, client.Send("world\r\n"))
	require.NoError(t, client.Send("raw"))
	require.NoError(t, client.Close())

	data, err := io.ReadAll(srv)
	require.NoError(t, err)
	assert.Equal(t, "helloworldraw", string(data))
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = Dial(&ConnInfo{HostIP: host, HostPort: port})
	assert.Error(t, err)
}

func TestDefaultConnInfo(t *testing.T) {
	info := DefaultConnInfo()
	assert.Equal(t, "127.0.0.1", info.HostIP)
	assert.Equal(t, 51717, info.HostPort)
}

func TestHistFilePathEnvOverride(t *testing.T) {
	t.Setenv(RelayCliHistFileEnv, "/tmp/relay_hist")
	assert.Equal(t, "/tmp/relay_hist", histFilePath())
}
