// Package transport provides the byte channels the sync engine runs over.
//
// Two shapes of transport exist:
//
//   - Datagram transports (UDPTransport, MemTransport) implement Transport:
//     one Channel per known peer, a bounded send window that reports
//     backpressure by refusing a send, and a ready callback once the window
//     drains. The beacon exchange runs here.
//   - Stream connections (Conn, Server) carry length-prefixed frames over
//     TCP with ping/pong keep-alive. Each child gets one direct connection
//     from the scheduling master.
//
// # Stream Framing
//
// Each stream frame is a 4-byte big-endian length followed by one CBOR
// message. Frames above ConnConfig.MaxMessageSize close the connection.
//
// # Keep-Alive
//
// A master pings each child link every DefaultPingInterval. A ping left
// unanswered for DefaultPongTimeout counts as missed, and the link is
// closed after DefaultMaxMissedPongs misses in a row, so a dead child is
// noticed within MaxDetectionDelay.
package transport
