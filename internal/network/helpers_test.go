package network

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/metrics"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

const testTimeout = 3 * time.Second

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

// startServer runs a server on an ephemeral loopback port and stops it when
// the test ends.
func startServer(t *testing.T, cfg *config.Config, bus *events.EventBus) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	srv := NewServer(cfg, bus, metrics.New(prometheus.NewRegistry()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		srv.Stop()
		srv.Wait()
	})
	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(p protocol.Packet) {
	c.t.Helper()
	data, err := protocol.EncodeFrame(p)
	require.NoError(c.t, err)
	c.sendRaw(data)
}

func (c *testClient) sendRaw(data []byte) {
	c.t.Helper()
	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

func (c *testClient) sendFrame(id protocol.PacketID, payload []byte) {
	c.t.Helper()
	data, err := protocol.AppendFrame(nil, id, payload)
	require.NoError(c.t, err)
	c.sendRaw(data)
}

func (c *testClient) recv() protocol.Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	frame, err := protocol.ReadFrame(c.r, 0)
	require.NoError(c.t, err)
	return frame
}

// recvPacket reads the next frame and decodes it into p.
func (c *testClient) recvPacket(p protocol.Packet) {
	c.t.Helper()
	frame := c.recv()
	require.Equal(c.t, p.ID(), frame.ID, "unexpected packet id")
	require.NoError(c.t, protocol.Unmarshal(frame.Payload, p))
}

// expectClosed asserts the server closes the stream without sending more
// frames.
func (c *testClient) expectClosed() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, err := protocol.ReadFrame(c.r, 0)
	require.Error(c.t, err)
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		require.False(c.t, netErr.Timeout(), "connection was not closed by the server")
	}
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}

func (c *testClient) handshake(version, next int) {
	c.t.Helper()
	c.send(&protocol.Handshake{
		ProtocolVersion: version,
		ServerAddress:   "localhost",
		ServerPort:      25565,
		NextState:       next,
	})
}

// login runs the full login sequence and returns the LoginSuccess.
func (c *testClient) login(name string) protocol.LoginSuccess {
	c.t.Helper()
	c.handshake(config.DefaultProtocolVersion, protocol.NextStateLogin)
	c.send(&protocol.LoginStart{Name: name})
	var ok protocol.LoginSuccess
	c.recvPacket(&ok)
	return ok
}

func waitForCount(t *testing.T, srv *Server, phase protocol.Phase, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Connections().CountInPhase(phase) == n
	}, testTimeout, 10*time.Millisecond)
}
