// Package router turns upstream ticker frames into downstream price updates.
//
// Each frame is decoded, its symbol looked up in the registry, and one
// encoded payload sent to every live subscriber. A failed send marks that
// client not live and does not affect the others. An optional Sink (usually
// an UpdateBuffer) sees every valid update for the snapshot cache.
package router
