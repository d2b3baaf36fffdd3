// Package session owns per-connection protocol state.
//
// Ownership boundary:
// - EOL negotiation state machine (one Negotiation per connection)
// - connection timeouts and keepalive defaults
// - reconnect backoff for callers that choose to retry
//
// Nothing here touches the socket; transport and the client/server packages
// drive these types.
package session
