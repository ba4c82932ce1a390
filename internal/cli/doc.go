// Package cli resolves the tool server executable and builds the command
// line and environment used to launch it.
//
// # Discovery
//
// The Discoverer interface locates the executable named in the options:
//
//	discoverer := cli.NewDiscoverer(&cli.Config{
//	    Command: "python",
//	    Logger:  slog.Default(),
//	})
//	path, err := discoverer.Discover(ctx)
//
// A command containing a path separator is used as-is (resolved against the
// working directory when relative). A bare name is searched in:
//  1. System PATH
//  2. Common installation directories (/usr/local/bin, /usr/bin, ~/.local/bin)
//
// Failures are reported as *errors.LaunchError listing the searched paths.
//
// # Command Building
//
//	cmd := cli.BuildCommand(path, options)
package cli
