// Package client assembles a ready tool server session.
//
// A Client owns one connection: it creates or adopts the transport, starts
// the protocol controller on it and runs the initialize handshake. Once
// Start returns, Session is ready for tool discovery and calls until Close.
package client
