// Package pricecache keeps the latest price update per symbol in Redis.
//
// Updates arrive from the router through an UpdateBuffer. Only the newest
// update per symbol is kept between flushes; each flush writes them with a
// pipelined SET and a TTL. Cached values serve the HTTP snapshot endpoint
// and are never pushed to WebSocket clients.
package pricecache
