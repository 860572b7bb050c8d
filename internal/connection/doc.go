// Package connection implements the Upstream Connection Manager.
//
// The Connection Manager:
//   - Owns the single multiplexed connection to the upstream ticker feed
//   - Rebuilds it whenever the requested stream set changes
//   - Reconnects with capped exponential backoff after errors and closes
//   - Stops retrying after MaxAttempts until the next external rebuild
//
// The manager is driven by a single goroutine. Transport callbacks and timers
// never touch manager state directly: they are delivered as Events through the
// notify function and fed back via HandleEvent.
package connection
