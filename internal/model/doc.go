// Package model defines shared data types used across marketstream.
//
// Conventions:
//   - Prices and sizes: decimal strings exactly as sent by the exchange
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: string for symbols, uuid.UUID for trade IDs
package model
