package transport

import (
	"errors"

	"github.com/cuesync/cuesync-go/pkg/wire"
)

// Transport errors.
var (
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrTransportClosed = errors.New("transport closed")
	ErrDuplicatePeer   = errors.New("peer already registered")
)

// Channel is a duplex byte channel to one peer.
type Channel interface {
	// Peer returns the remote peer.
	Peer() wire.PeerID

	// Send offers a frame. It returns false when the transport cannot
	// accept more data now; the caller keeps the frame and retries after
	// the handler's OnReady.
	Send(data []byte) bool

	// MaxPayload returns the largest frame the channel accepts.
	MaxPayload() int
}

// Handler receives transport events. Callbacks may run on transport
// goroutines and must not block.
type Handler interface {
	// OnData is called with each inbound frame.
	OnData(peer wire.PeerID, data []byte)

	// OnReady is called when a previously refusing channel can accept data.
	OnReady(peer wire.PeerID)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Data  func(peer wire.PeerID, data []byte)
	Ready func(peer wire.PeerID)
}

// OnData calls h.Data.
func (h HandlerFuncs) OnData(peer wire.PeerID, data []byte) {
	if h.Data != nil {
		h.Data(peer, data)
	}
}

// OnReady calls h.Ready.
func (h HandlerFuncs) OnReady(peer wire.PeerID) {
	if h.Ready != nil {
		h.Ready(peer)
	}
}

// Transport is a set of channels sharing one handler.
type Transport interface {
	// SetHandler installs the event handler. Must be called before traffic
	// is expected; events arriving with no handler are dropped.
	SetHandler(h Handler)

	// Channel returns the channel to peer.
	Channel(peer wire.PeerID) (Channel, bool)

	// Channels returns every known channel.
	Channels() []Channel

	// Close releases the transport.
	Close() error
}

type nopHandler struct{}

func (nopHandler) OnData(wire.PeerID, []byte) {}
func (nopHandler) OnReady(wire.PeerID)        {}

// Compile-time interface satisfaction checks.
var (
	_ Handler   = HandlerFuncs{}
	_ Transport = (*UDPTransport)(nil)
	_ Transport = (*MemTransport)(nil)
	_ Channel   = (*udpPeer)(nil)
	_ Channel   = (*memChannel)(nil)
)
