// Package protocol implements the client half of the tool protocol.
//
// A Controller correlates JSON-RPC requests and responses over a transport.
// A Session layers the protocol state machine on top: the initialize
// handshake and version check, tool discovery and tool invocation with
// failure classification.
//
// Example usage:
//
//	transport := subprocess.NewTransport(log, options)
//	transport.Start(ctx)
//
//	controller := protocol.NewController(log, transport)
//	controller.Start(ctx)
//
//	session := protocol.NewSession(log, controller, options)
//	if _, err := session.Initialize(ctx); err != nil {
//	    return err
//	}
//
//	result, err := session.CallTool(ctx, "get_weather", map[string]any{"location": "Tokyo"})
package protocol
