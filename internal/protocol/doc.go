// Package protocol owns the serial plotter wire contract.
//
// Ownership boundary:
// - message vocabulary shared by the middleware and the plotter UI
// - JSON encode/decode of whole messages
// - data line formatting and parsing
// - semantic validation entry points
//
// Framing over the transport lives in protocol/frame; EOL negotiation state
// lives in protocol/session.
package protocol
