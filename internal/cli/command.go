package cli

import (
	"maps"
	"os"
	"slices"

	"github.com/wagiedev/toolbridge-go/internal/config"
)

// ClientVersion is exported to the child as TOOLBRIDGE_CLIENT_VERSION.
const ClientVersion = "0.1.0"

// Command represents the process to execute.
type Command struct {
	// Path is the resolved executable.
	Path string

	// Args are the command line arguments, excluding the executable.
	Args []string

	// Env are the environment variables in KEY=VALUE form.
	Env []string

	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// BuildCommand assembles the launch command for a resolved executable.
func BuildCommand(path string, options *config.Options) *Command {
	return &Command{
		Path: path,
		Args: slices.Clone(options.Args),
		Env:  BuildEnvironment(options),
		Dir:  options.Cwd,
	}
}

// BuildEnvironment constructs the environment variables for the child process.
// Overrides are appended in sorted key order after the inherited environment,
// so they win on lookup.
func BuildEnvironment(options *config.Options) []string {
	env := os.Environ()

	env = append(env,
		"TOOLBRIDGE_CLIENT_VERSION="+ClientVersion,
		// Python servers buffer stdout when it is a pipe.
		"PYTHONUNBUFFERED=1",
	)

	for _, key := range slices.Sorted(maps.Keys(options.Env)) {
		env = append(env, key+"="+options.Env[key])
	}

	return env
}
