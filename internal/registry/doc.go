// Package registry implements the Client Registry.
//
// The registry tracks, per downstream connection id, the set of symbols the
// connection is subscribed to. It is plain bookkeeping owned by the relay
// event loop and is not safe for concurrent use.
package registry
