//go:build !windows

package subagent

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// prepareForTermination puts the child in its own process group so a
// later signal can reach every descendant it spawns, mirroring the
// teacher's host_process_unix.go.
func prepareForTermination(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig unix.Signal) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, sig)
}

func terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	signalGroup(cmd.Process.Pid, unix.SIGTERM)
}

func kill(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	signalGroup(cmd.Process.Pid, unix.SIGKILL)
	_ = cmd.Process.Kill()
}
