// Package watchlist stores each user's saved symbols and serves them over HTTP.
//
// Users are identified by UUID. The relay trusts the X-User-ID header set by
// the authentication layer in front of it. The gateway also reads watchlists
// to pre-subscribe connections opened with ?user=<uuid>.
package watchlist
