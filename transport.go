package toolbridge

import "github.com/wagiedev/toolbridge-go/internal/config"

// Transport defines the byte-stream connection to a tool server.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods.
//
// The default implementation spawns the configured command as a subprocess.
// Custom transports can be injected via WithTransport.
type Transport = config.Transport
