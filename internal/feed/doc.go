// Package feed keeps a set of channel subscriptions alive on one streaming
// connection.
//
// The feed owns a stream.Client. Every time the connection opens (the first
// connect and every reconnect) the full subscription set is sent again in
// (channel, symbol) order. Control replies from the server are logged; data
// frames are forwarded to the output channel without blocking.
package feed
