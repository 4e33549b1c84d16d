//go:build unix

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to every process in the backend's group so that
// helpers it forked release the port too. ESRCH means the group is gone.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

func kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}
