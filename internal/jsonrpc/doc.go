// Package jsonrpc defines the JSON-RPC 2.0 envelope spoken between a
// toolbridge client and a tool server, one message per line.
//
// Wire format for a request:
//
//	{"jsonrpc":"2.0","id":"01J...","method":"tools/call","params":{...}}
//
// Wire format for an error response:
//
//	{"jsonrpc":"2.0","id":"01J...","error":{"code":-32602,"message":"...","data":{"kind":"UnknownTool"}}}
package jsonrpc
