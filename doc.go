// Package toolbridge connects Go programs to tool servers that speak the
// Model Context Protocol over stdio, and serves Go tools the same way.
//
// A tool server is a child process exchanging newline-delimited JSON-RPC 2.0
// messages on its stdin and stdout. toolbridge launches it, performs the
// initialize handshake, discovers its tools and invokes them, correlating
// concurrent calls by request id.
//
// # Calling tools
//
// Connect launches the server and returns a ready session:
//
//	session, err := toolbridge.Connect(ctx,
//	    toolbridge.WithCommand("python", "mcp_server.py"),
//	    toolbridge.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	result, err := session.CallTool(ctx, "get_weather", map[string]any{"location": "Paris"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println(result.Text())
//
// WithSession wraps the same lifecycle with automatic cleanup.
//
// # Capabilities
//
// Capabilities turns every discovered tool into a Capability, which agent
// frameworks invoke with an argument map and a string result:
//
//	caps, err := session.Capabilities(ctx)
//	for _, c := range caps {
//	    fmt.Println(c.Name(), c.Description())
//	}
//
//	text, err := caps[0].Invoke(ctx, map[string]any{"query": "go"})
//
// NewCapabilitySet indexes capabilities by name and runs several calls
// concurrently with InvokeAll.
//
// # Serving tools
//
// NewRegistry holds Go tool handlers; Serve answers the protocol on stdin and
// stdout:
//
//	add := toolbridge.NewServerTool("add", "Add two numbers",
//	    toolbridge.SimpleSchema(map[string]string{"a": "float64", "b": "float64"}),
//	    func(ctx context.Context, req *toolbridge.CallToolRequest) (*toolbridge.CallToolResult, error) {
//	        args, _ := toolbridge.ParseArguments(req)
//	        return toolbridge.TextResult(fmt.Sprint(args["a"].(float64) + args["b"].(float64))), nil
//	    })
//
//	reg, err := toolbridge.NewRegistry("calculator", "1.0.0", add)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := toolbridge.Serve(ctx, reg); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Handling
//
// Per-call failures are *ToolError values carrying a Kind; each kind unwraps
// to a sentinel so errors.Is works:
//
//	_, err := session.CallTool(ctx, "nope", nil)
//	if errors.Is(err, toolbridge.ErrUnknownTool) {
//	    // ...
//	}
//
//	if launchErr, ok := errors.AsType[*toolbridge.LaunchError](err); ok {
//	    log.Fatalf("tool server not found, searched: %v", launchErr.SearchedPaths)
//	}
//
// Transport failures fail every pending and future call on the session.
// Nothing is retried.
package toolbridge
