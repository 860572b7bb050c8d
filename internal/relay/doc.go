// Package relay runs the relay's single event loop.
//
// One goroutine (Run) owns the client registry, the upstream connection
// manager, the router and the client directory. Gateways, the upstream
// transport and timers only post events; each event is handled to completion
// before the next one. Every subscription change recomputes the active stream
// set and asks the manager to rebuild the upstream connection.
package relay
