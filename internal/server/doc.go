// Package server implements the tool-server side of the protocol.
//
// A Server answers initialize, ping, tools/list and tools/call over any
// line-oriented reader/writer pair, dispatching calls to a registry.Registry.
// Calls run concurrently and may be answered out of order; writes are
// serialized so every response is a single line.
package server
