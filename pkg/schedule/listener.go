package schedule

import (
	"context"
	"log/slog"
	"net"

	"github.com/cuesync/cuesync-go/pkg/transport"
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address to accept the master on (e.g. ":7401").
	Address string

	// Conn is applied to accepted connections; OnMessage and OnClose are
	// replaced.
	Conn transport.ConnConfig

	Logger *slog.Logger
}

// Listener accepts the master's direct connection on the child side and
// feeds it to a Client.
type Listener struct {
	server *transport.Server
	client *Client
}

// NewListener creates a Listener for client.
func NewListener(cfg ListenerConfig, client *Client) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn := cfg.Conn
	if conn.Logger == nil {
		conn.Logger = logger
	}
	conn.OnMessage = func(c *transport.Conn, data []byte) {
		if err := client.HandleFrame(c, data); err != nil {
			logger.Debug("schedule frame dropped", "conn", c.ID(), "error", err)
		}
	}
	conn.OnClose = func(c *transport.Conn, err error) {
		client.LinkClosed(c)
	}

	return &Listener{
		client: client,
		server: transport.NewServer(transport.ServerConfig{
			Address: cfg.Address,
			Conn:    conn,
			OnConnect: func(c *transport.Conn) {
				logger.Info("master connected", "conn", c.ID(), "remote", c.RemoteAddr())
			},
			Logger: logger,
		}),
	}
}

// Start begins accepting.
func (l *Listener) Start(ctx context.Context) error {
	return l.server.Start(ctx)
}

// Stop closes the listener and any master connection.
func (l *Listener) Stop() error {
	return l.server.Stop()
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	return l.server.Addr()
}

// Client returns the client fed by this listener.
func (l *Listener) Client() *Client {
	return l.client
}
