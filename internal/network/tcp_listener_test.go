package network

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

func TestStatusExchange(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MOTD = "Hello <world>"
	srv := startServer(t, cfg, nil)

	c := dial(t, srv)
	c.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	c.send(&protocol.StatusRequest{})

	var resp protocol.StatusResponse
	c.recvPacket(&resp)

	var status protocol.ServerStatus
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &status))
	assert.Equal(t, config.DefaultVersionName, status.Version.Name)
	assert.Equal(t, config.DefaultProtocolVersion, status.Version.Protocol)
	assert.Equal(t, 20, status.Players.Max)
	assert.Equal(t, 0, status.Players.Online)
	assert.Equal(t, "Hello <world>", status.Description.Text)

	c.send(&protocol.PingRequest{Payload: 0x0102030405060708})
	var pong protocol.PongResponse
	c.recvPacket(&pong)
	assert.Equal(t, int64(0x0102030405060708), pong.Payload)

	c.expectClosed()
}

func TestPingWithoutStatusRequest(t *testing.T) {
	srv := startServer(t, nil, nil)

	c := dial(t, srv)
	c.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	c.send(&protocol.PingRequest{Payload: -1})

	var pong protocol.PongResponse
	c.recvPacket(&pong)
	assert.Equal(t, int64(-1), pong.Payload)
	c.expectClosed()
}

func TestUnknownPacketIsDiscarded(t *testing.T) {
	bus := events.NewEventBus()
	unknown := make(chan events.UnknownPacketPayload, 1)
	bus.Subscribe(events.EventUnknownPacket, "test", func(_ context.Context, e events.Event) error {
		unknown <- e.Payload.(events.UnknownPacketPayload)
		return nil
	})
	srv := startServer(t, nil, bus)

	c := dial(t, srv)
	c.sendFrame(0x7F, []byte{1, 2, 3, 4})
	c.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	c.send(&protocol.StatusRequest{})

	var resp protocol.StatusResponse
	c.recvPacket(&resp)
	assert.Contains(t, resp.JSON, `"protocol":754`)

	select {
	case p := <-unknown:
		assert.Equal(t, protocol.PhaseHandshaking, p.Phase)
		assert.Equal(t, protocol.PacketID(0x7F), p.PacketID)
		assert.Equal(t, 5, p.Length)
		assert.Equal(t, 1, p.Count)
	case <-time.After(testTimeout):
		t.Fatal("no unknown packet event")
	}
}

func TestUnknownPacketLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Network.MaxUnknownPackets = 2
	srv := startServer(t, cfg, nil)

	c := dial(t, srv)
	c.sendFrame(0x40, nil)
	c.sendFrame(0x41, nil)
	c.sendFrame(0x42, nil)
	c.expectClosed()
}

func TestPacketIDsArePhaseScoped(t *testing.T) {
	srv := startServer(t, nil, nil)

	// 0x00 is Handshake, then StatusRequest.
	status := dial(t, srv)
	status.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	status.sendFrame(0x00, nil)
	var resp protocol.StatusResponse
	status.recvPacket(&resp)

	// 0x00 is Handshake, then LoginStart.
	login := dial(t, srv)
	ok := login.login("Alex")
	assert.Equal(t, "Alex", ok.Username)
}

func TestLoginEntersPlay(t *testing.T) {
	bus := events.NewEventBus()
	logins := make(chan events.LoginPayload, 1)
	bus.Subscribe(events.EventPlayerLogin, "test", func(_ context.Context, e events.Event) error {
		logins <- e.Payload.(events.LoginPayload)
		return nil
	})
	srv := startServer(t, nil, bus)

	c := dial(t, srv)
	ok := c.login("Steve")
	assert.Equal(t, "Steve", ok.Username)
	assert.Equal(t, protocol.OfflineUUID("Steve"), ok.UUID)

	waitForCount(t, srv, protocol.PhasePlay, 1)
	assert.Equal(t, 1, srv.ServerStatus().Players.Online)

	conn, found := srv.Connections().FindByUsername("steve")
	require.True(t, found)
	assert.Equal(t, protocol.PhasePlay, conn.Phase())
	assert.Equal(t, -1, conn.CompressionThreshold())

	select {
	case p := <-logins:
		assert.Equal(t, "Steve", p.Username)
		assert.Equal(t, ok.UUID.String(), p.UUID)
		assert.Equal(t, config.DefaultProtocolVersion, p.ProtocolVersion)
	case <-time.After(testTimeout):
		t.Fatal("no login event")
	}
}

func TestLoginRejections(t *testing.T) {
	tests := []struct {
		name    string
		version int
		user    string
		reason  string
	}{
		{"old client", 47, "Steve", "Outdated client! Please use 1.16.5"},
		{"new client", 755, "Steve", "Outdated server! I'm still on 1.16.5"},
		{"invalid name", config.DefaultProtocolVersion, "bad name!", "Invalid username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, nil, nil)
			c := dial(t, srv)
			c.handshake(tt.version, protocol.NextStateLogin)
			if tt.version == config.DefaultProtocolVersion {
				c.send(&protocol.LoginStart{Name: tt.user})
			}

			var disc protocol.LoginDisconnect
			c.recvPacket(&disc)
			assert.Equal(t, protocol.ChatJSON(tt.reason), disc.Reason)
			c.expectClosed()
		})
	}
}

func TestLoginDuplicateNameAndFull(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxPlayers = 2
	srv := startServer(t, cfg, nil)

	dial(t, srv).login("Steve")

	dup := dial(t, srv)
	dup.handshake(config.DefaultProtocolVersion, protocol.NextStateLogin)
	dup.send(&protocol.LoginStart{Name: "STEVE"})
	var disc protocol.LoginDisconnect
	dup.recvPacket(&disc)
	assert.Contains(t, disc.Reason, "already logged in")
	dup.expectClosed()

	dial(t, srv).login("Alex")

	full := dial(t, srv)
	full.handshake(config.DefaultProtocolVersion, protocol.NextStateLogin)
	full.send(&protocol.LoginStart{Name: "Notch"})
	full.recvPacket(&disc)
	assert.Equal(t, protocol.ChatJSON("The server is full!"), disc.Reason)
	full.expectClosed()

	waitForCount(t, srv, protocol.PhasePlay, 2)
}

func TestInvalidNextStateCloses(t *testing.T) {
	srv := startServer(t, nil, nil)
	c := dial(t, srv)
	c.handshake(config.DefaultProtocolVersion, 3)
	c.expectClosed()
}

func TestMalformedPayloadCloses(t *testing.T) {
	srv := startServer(t, nil, nil)
	c := dial(t, srv)
	// Handshake cut off after the protocol version.
	c.sendFrame(protocol.C2SHandshake, []byte{0xF2, 0x05})
	c.expectClosed()
}

func TestOversizedFrameCloses(t *testing.T) {
	cfg := testConfig()
	cfg.Network.MaxFrameSize = 64
	srv := startServer(t, cfg, nil)

	c := dial(t, srv)
	c.sendRaw([]byte{0x80, 0x01}) // length 128
	c.expectClosed()
}

func TestInterleavedClientsDoNotInterfere(t *testing.T) {
	srv := startServer(t, nil, nil)

	const clients = 8
	cs := make([]*testClient, clients)
	for i := range cs {
		cs[i] = dial(t, srv)
	}
	for _, c := range cs {
		c.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	}
	for i, c := range cs {
		c.send(&protocol.StatusRequest{})
		c.send(&protocol.PingRequest{Payload: int64(i)})
	}

	for i := len(cs) - 1; i >= 0; i-- {
		var resp protocol.StatusResponse
		cs[i].recvPacket(&resp)
		var pong protocol.PongResponse
		cs[i].recvPacket(&pong)
		assert.Equal(t, int64(i), pong.Payload)
		cs[i].expectClosed()
	}
}

func TestChatIsRelayed(t *testing.T) {
	srv := startServer(t, nil, nil)

	steve := dial(t, srv)
	steve.login("Steve")
	alex := dial(t, srv)
	alex.login("Alex")
	waitForCount(t, srv, protocol.PhasePlay, 2)

	steve.send(&protocol.ChatMessage{Message: "  hi there "})

	for _, c := range []*testClient{steve, alex} {
		var msg protocol.ChatBroadcast
		c.recvPacket(&msg)
		assert.Equal(t, protocol.ChatJSON("<Steve> hi there"), msg.JSON)
		assert.Equal(t, protocol.ChatPositionChat, msg.Position)
		assert.Equal(t, protocol.OfflineUUID("Steve"), msg.Sender)
	}
}

func TestAnnounce(t *testing.T) {
	srv := startServer(t, nil, nil)

	c := dial(t, srv)
	c.login("Steve")
	waitForCount(t, srv, protocol.PhasePlay, 1)

	// Status-phase clients are not players.
	other := dial(t, srv)
	other.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	waitForCount(t, srv, protocol.PhaseStatus, 1)

	assert.Equal(t, 1, srv.Announce(context.Background(), "restart soon", "console"))

	var msg protocol.ChatBroadcast
	c.recvPacket(&msg)
	assert.Equal(t, protocol.ChatJSON("[Server] restart soon"), msg.JSON)
	assert.Equal(t, protocol.ChatPositionSystem, msg.Position)
}

func TestKeepAlive(t *testing.T) {
	srv := startServer(t, nil, nil)

	c := dial(t, srv)
	c.login("Steve")
	waitForCount(t, srv, protocol.PhasePlay, 1)

	sent, dropped := srv.SendKeepAlives()
	assert.Equal(t, 1, sent)
	assert.Zero(t, dropped)

	var probe protocol.KeepAliveClientbound
	c.recvPacket(&probe)
	c.send(&protocol.KeepAliveServerbound{KeepAliveID: probe.KeepAliveID})

	conn, ok := srv.Connections().FindByUsername("Steve")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, pending := conn.PendingKeepAlive()
		return !pending
	}, testTimeout, 10*time.Millisecond)

	// An answer nobody asked for is a protocol violation.
	c.send(&protocol.KeepAliveServerbound{KeepAliveID: probe.KeepAliveID + 1})
	c.expectClosed()
	waitForCount(t, srv, protocol.PhasePlay, 0)
}

func TestKeepAliveTimeoutDisconnects(t *testing.T) {
	srv := startServer(t, nil, nil)

	c := dial(t, srv)
	c.login("Steve")
	waitForCount(t, srv, protocol.PhasePlay, 1)

	sent, _ := srv.SendKeepAlives()
	require.Equal(t, 1, sent)
	var probe protocol.KeepAliveClientbound
	c.recvPacket(&probe)

	// Still within the timeout: nothing is sent or dropped.
	sent, dropped := srv.SendKeepAlives()
	assert.Zero(t, sent)
	assert.Zero(t, dropped)

	conn, ok := srv.Connections().FindByUsername("Steve")
	require.True(t, ok)
	conn.mu.Lock()
	conn.keepAliveSentAt = time.Now().Add(-31 * time.Second)
	conn.mu.Unlock()

	_, dropped = srv.SendKeepAlives()
	assert.Equal(t, 1, dropped)

	var disc protocol.PlayDisconnect
	c.recvPacket(&disc)
	assert.Equal(t, protocol.ChatJSON("Timed out"), disc.Reason)
	c.expectClosed()
}

func TestKick(t *testing.T) {
	bus := events.NewEventBus()
	kicks := make(chan events.KickPayload, 1)
	bus.Subscribe(events.EventKick, "test", func(_ context.Context, e events.Event) error {
		kicks <- e.Payload.(events.KickPayload)
		return nil
	})
	srv := startServer(t, nil, bus)

	c := dial(t, srv)
	c.login("Steve")
	waitForCount(t, srv, protocol.PhasePlay, 1)

	_, err := srv.Kick(context.Background(), "nobody", "", "api")
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	info, err := srv.Kick(context.Background(), "Steve", "", "api")
	require.NoError(t, err)
	assert.Equal(t, "Steve", info.Username)

	var disc protocol.PlayDisconnect
	c.recvPacket(&disc)
	assert.Equal(t, protocol.ChatJSON("Kicked by an operator"), disc.Reason)
	c.expectClosed()
	waitForCount(t, srv, protocol.PhasePlay, 0)

	select {
	case k := <-kicks:
		assert.Equal(t, "api", k.By)
		assert.Equal(t, info.ID, k.ConnID)
	case <-time.After(testTimeout):
		t.Fatal("no kick event")
	}
}

func TestKickByConnectionID(t *testing.T) {
	srv := startServer(t, nil, nil)

	c := dial(t, srv)
	c.handshake(config.DefaultProtocolVersion, protocol.NextStateStatus)
	waitForCount(t, srv, protocol.PhaseStatus, 1)

	id := srv.Connections().InPhase(protocol.PhaseStatus)[0].ID()
	_, err := srv.Kick(context.Background(), id, "bye", "console")
	require.NoError(t, err)
	// Status has no disconnect packet; the socket just closes.
	c.expectClosed()
}

func TestStopUnblocksConnections(t *testing.T) {
	srv := NewServer(testConfig(), nil, nil, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	<-srv.Ready()

	a := dial(t, srv)
	b := dial(t, srv)
	b.login("Steve")
	require.Eventually(t, func() bool { return srv.Connections().Count() == 2 }, testTimeout, 10*time.Millisecond)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())

	waited := make(chan struct{})
	go func() {
		srv.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(testTimeout):
		t.Fatal("connection goroutines did not exit")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Start did not return")
	}

	a.expectClosed()
	b.expectClosed()
	assert.Zero(t, srv.Connections().Count())
}

func TestContextCancelStopsServer(t *testing.T) {
	srv := NewServer(testConfig(), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	<-srv.Ready()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Start did not return after cancel")
	}
}

func TestConnectionClosedEvent(t *testing.T) {
	bus := events.NewEventBus()
	closed := make(chan events.ConnectionPayload, 1)
	bus.Subscribe(events.EventConnectionClosed, "test", func(_ context.Context, e events.Event) error {
		closed <- e.Payload.(events.ConnectionPayload)
		return nil
	})
	srv := startServer(t, nil, bus)

	c := dial(t, srv)
	c.login("Steve")
	waitForCount(t, srv, protocol.PhasePlay, 1)
	c.conn.Close()

	select {
	case p := <-closed:
		assert.Equal(t, "Steve", p.Username)
		assert.Equal(t, protocol.PhasePlay, p.Phase)
		assert.Equal(t, reasonEOF, p.Reason)
	case <-time.After(testTimeout):
		t.Fatal("no closed event")
	}
}

type countingTransform struct {
	mu       sync.Mutex
	inbound  int
	outbound int
}

func (t *countingTransform) Inbound(body []byte) ([]byte, error) {
	t.mu.Lock()
	t.inbound++
	t.mu.Unlock()
	return body, nil
}

func (t *countingTransform) Outbound(body []byte) ([]byte, error) {
	t.mu.Lock()
	t.outbound++
	t.mu.Unlock()
	return body, nil
}

func TestCompressionNeedsTransform(t *testing.T) {
	cfg := testConfig()
	cfg.Server.CompressionThreshold = 256

	t.Run("without factory", func(t *testing.T) {
		srv := startServer(t, cfg, nil)
		c := dial(t, srv)
		// LoginSuccess arrives directly, no SetCompression first.
		c.login("Steve")
	})

	t.Run("with factory", func(t *testing.T) {
		srv := NewServer(cfg, nil, nil, nil)
		tr := &countingTransform{}
		srv.SetTransformFactory(func(*Connection) FrameTransform { return tr })
		go srv.Start(context.Background())
		<-srv.Ready()
		t.Cleanup(func() {
			srv.Stop()
			srv.Wait()
		})

		c := dial(t, srv)
		c.handshake(config.DefaultProtocolVersion, protocol.NextStateLogin)
		c.send(&protocol.LoginStart{Name: "Steve"})

		var sc protocol.SetCompression
		c.recvPacket(&sc)
		assert.Equal(t, 256, sc.Threshold)
		var ok protocol.LoginSuccess
		c.recvPacket(&ok)

		c.send(&protocol.ChatMessage{Message: "hi"})
		var msg protocol.ChatBroadcast
		c.recvPacket(&msg)

		tr.mu.Lock()
		defer tr.mu.Unlock()
		assert.Equal(t, 1, tr.inbound)
		assert.Equal(t, 2, tr.outbound)
	})
}
