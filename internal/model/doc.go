// Package model defines the wire types shared by the relay components.
//
// Conventions:
//   - Symbols: uppercase exchange symbols (e.g., "BTCUSDT")
//   - Prices and volumes: float64 as sent to downstream clients
//   - Downstream frames are JSON text with a "type" discriminator
package model
