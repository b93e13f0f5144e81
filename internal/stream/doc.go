// Package stream implements the reconnecting streaming client.
//
// A Client holds at most one live WebSocket connection to a single endpoint:
//   - Decodes inbound JSON frames and hands them to OnMessage in order
//   - Reports lifecycle through OnOpen, OnClose and OnError
//   - Reconnects after unexpected closes with exponential backoff
//   - Stops reconnecting after Disconnect or once MaxReconnectAttempts is hit
//
// Callbacks for one Client never run concurrently.
package stream
