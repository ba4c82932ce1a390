//go:build !windows

package subprocess

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the server in its own process group so that
// helpers it spawns are signalled with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// Group leader gone or never set up; signal the process itself.
		return p.Signal(sig)
	}

	return err
}
