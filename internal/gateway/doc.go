// Package gateway accepts downstream WebSocket connections.
//
// Each connection gets a read pump, which forwards inbound frames to the
// relay, and a write pump, which drains a bounded send queue and keeps the
// connection alive with pings. A client whose queue overflows is
// disconnected rather than allowed to stall the relay.
package gateway
