// Package server implements the roomrelay WebSocket broker.
//
// Clients connect to /ws, authenticate with a signed token, join rooms they
// are durable members of, and exchange chat messages and typing indicators
// with everyone present in those rooms. Messages are persisted through a
// store.Gateway before they are broadcast.
//
// The implementation is split across files for configuration, the hub
// (connection registry and room presence), sessions (per-connection pumps),
// the protocol engine, routing, and HTTP handlers.
package server
