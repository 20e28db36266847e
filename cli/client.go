package cli

import (
	"net"
	"strconv"
	"strings"
)

// ConnInfo tells the client where the relay server lives.
type ConnInfo struct {
	HostIP   string
	HostPort int
}

func DefaultConnInfo() *ConnInfo {
	return &ConnInfo{
		HostIP:   "127.0.0.1",
		HostPort: 51717,
	}
}

// Client is the sending side of the relay: one TCP connection, raw line
// bytes out, nothing read back. The server applies no framing, so lines are
// delivered as bare byte runs.
type Client struct {
	conn net.Conn
}

func Dial(info *ConnInfo) (*Client, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(info.HostIP, strconv.Itoa(info.HostPort)))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// LocalAddr returns the address the client connected from.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send writes line to the server with any trailing newline stripped.
func (c *Client) Send(line string) error {
	_, err := c.conn.Write([]byte(strings.TrimRight(line, "\r\n")))
	return err
}

func (c *Client) Close() error {
	return c.conn.Close()
}
