package kvserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarm/internal/protocol"
)

type client struct {
	conn net.Conn
	br   *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, br: bufio.NewReader(conn)}
}

func (c *client) do(t *testing.T, cmd ...string) protocol.Response {
	t.Helper()
	_, err := c.conn.Write(protocol.AppendRequest(nil, cmd...))
	require.NoError(t, err)
	resp, err := protocol.ReadResponse(c.br)
	require.NoError(t, err)
	return resp
}

func start(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestGetSetDel(t *testing.T) {
	srv := start(t, Config{})
	c := dial(t, srv.Addr())

	resp := c.do(t, "get", "missing")
	assert.Equal(t, protocol.StatusNotFound, resp.Status)

	resp = c.do(t, "set", "k", "v")
	assert.Equal(t, protocol.StatusOK, resp.Status)

	resp = c.do(t, "get", "k")
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, []byte("v"), resp.Data)

	resp = c.do(t, "del", "k")
	assert.Equal(t, protocol.StatusOK, resp.Status)

	resp = c.do(t, "get", "k")
	assert.Equal(t, protocol.StatusNotFound, resp.Status)
}

func TestUnknownCommand(t *testing.T) {
	srv := start(t, Config{})
	c := dial(t, srv.Addr())

	resp := c.do(t, "flush")
	assert.Equal(t, protocol.StatusErr, resp.Status)
}

func TestErrorInjection(t *testing.T) {
	srv := start(t, Config{ErrorRate: 1})
	c := dial(t, srv.Addr())

	resp := c.do(t, "set", "k", "v")
	assert.Equal(t, protocol.StatusErr, resp.Status)
}

func TestArtificialLatency(t *testing.T) {
	srv := start(t, Config{Latency: 30 * time.Millisecond})
	c := dial(t, srv.Addr())

	begin := time.Now()
	c.do(t, "set", "k", "v")
	assert.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
}

func TestCloseUnblocksClients(t *testing.T) {
	srv := start(t, Config{})
	c := dial(t, srv.Addr())
	c.do(t, "set", "k", "v")

	require.NoError(t, srv.Close())

	// The server tears the connection down; the next read must not hang.
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := protocol.ReadResponse(c.br)
	assert.Error(t, err)
}
