// Package discovery finds sync session members on the local network with
// mDNS/DNS-SD.
//
// Every node advertises one instance of _cuesync._udp. The instance name
// is "<session>-<id>" and the TXT record carries:
//
//	role   "parent" or "child"
//	id     peer ID, stable for the session
//	sess   session name
//	sp     TCP port of the child's scheduling listener (children only)
//
// The advertised port is the node's beacon (datagram) port. Browsing
// aggregates addresses reported by several interfaces into one Service and
// drops addresses again when an interface withdraws them.
package discovery
