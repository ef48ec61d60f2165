package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

type inbox struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (b *inbox) add(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *inbox) all() []wire.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]wire.Message(nil), b.msgs...)
}

func startEchoServer(t *testing.T, cfg ConnConfig) (*Server, *inbox) {
	t.Helper()
	received := &inbox{}
	cfg.OnMessage = func(c *Conn, data []byte) {
		received.add(data)
		// Echo Sync back as a SyncFollowUp, like a child would.
		if msg, err := wire.Decode(data); err == nil {
			if probe, ok := msg.(*wire.Sync); ok {
				_ = c.SendMessage(&wire.SyncFollowUp{T1: probe.T1, T2: 5, T3: 6})
			}
		}
	}
	s := NewServer(ServerConfig{Address: "127.0.0.1:0", Conn: cfg})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, received
}

func TestConnMessageExchange(t *testing.T) {
	s, serverInbox := startEchoServer(t, ConnConfig{DisableKeepAlive: true})

	clientInbox := &inbox{}
	c, err := Dial(context.Background(), s.Addr().String(), ConnConfig{
		DisableKeepAlive: true,
		OnMessage:        func(_ *Conn, data []byte) { clientInbox.add(data) },
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendMessage(&wire.Sync{T1: 1000}))

	assert.Eventually(t, func() bool { return len(clientInbox.all()) == 1 }, time.Second, 5*time.Millisecond)
	reply, ok := clientInbox.all()[0].(*wire.SyncFollowUp)
	require.True(t, ok)
	assert.Equal(t, int64(1000), reply.T1)
	assert.Len(t, serverInbox.all(), 1)
	assert.Equal(t, 1, s.ConnectionCount())
	assert.NotEmpty(t, c.ID())
}

func TestConnGracefulClose(t *testing.T) {
	closed := make(chan error, 1)
	s, _ := startEchoServer(t, ConnConfig{
		DisableKeepAlive: true,
		OnClose:          func(_ *Conn, err error) { closed <- err },
	})

	c, err := Dial(context.Background(), s.Addr().String(), ConnConfig{DisableKeepAlive: true})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.Err())

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server side never saw the close")
	}
	assert.Eventually(t, func() bool { return s.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Send([]byte{1}), ErrConnectionClosed)
}

func TestConnKeepAliveAnswered(t *testing.T) {
	ka := KeepAliveConfig{PingInterval: 20 * time.Millisecond, PongTimeout: 10 * time.Millisecond, MaxMissedPongs: 2}
	s, _ := startEchoServer(t, ConnConfig{DisableKeepAlive: true})

	c, err := Dial(context.Background(), s.Addr().String(), ConnConfig{KeepAlive: ka})
	require.NoError(t, err)
	defer c.Close()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, StateConnected, c.State(), "server answers pings so the link stays up")
	stats, ok := c.KeepAliveStats()
	require.True(t, ok)
	assert.Positive(t, stats.Pongs)
	assert.Zero(t, stats.Missed)
}

func TestConnServerStopClosesClients(t *testing.T) {
	s, _ := startEchoServer(t, ConnConfig{DisableKeepAlive: true})

	c, err := Dial(context.Background(), s.Addr().String(), ConnConfig{DisableKeepAlive: true})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not notice server stop")
	}
}

func TestDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "127.0.0.1:1", ConnConfig{})
	assert.Error(t, err)
}
