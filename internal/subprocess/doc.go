// Package subprocess provides the child-process transport for tool servers.
//
// The transport spawns the configured executable and speaks newline-delimited
// JSON over its stdin and stdout. It owns the process lifecycle: start,
// ordered writes, a single reader, stderr capture and a graceful-then-forced
// shutdown.
package subprocess
