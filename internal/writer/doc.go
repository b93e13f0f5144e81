// Package writer implements batch writers that drain router buffers into
// PostgreSQL.
//
// Writers:
//   - Trade writer (trades table)
//   - Ticker writer (tickers table)
//
// All writers use append-only semantics (never update, only insert). Prices
// and sizes are stored as NUMERIC built from the exchange's decimal strings,
// so no precision is lost in transit.
package writer
