// Package router turns decoded stream frames into typed messages.
//
// The router:
//   - Dispatches on the frame "type" to trade, orderbook and ticker parsers
//   - Pushes results into unbounded GrowableBuffers, one per message kind
//   - Flags per-symbol sequence gaps on trades and orderbook updates
//   - Counts parse errors and unknown types instead of failing
package router
