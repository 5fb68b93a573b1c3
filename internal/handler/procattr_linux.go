package handler

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
)

// configureCommand puts the subprocess in its own process group so the
// whole tree can be signalled, optionally switching to the site owner's
// credentials. Cancellation sends SIGTERM to the group; WaitDelay lets the
// runtime SIGKILL a handler that ignores it.
func configureCommand(cmd *exec.Cmd, acct policy.Account, drop bool, grace time.Duration) {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if drop {
		attr.Credential = &syscall.Credential{Uid: acct.UID, Gid: acct.GID}
	}
	cmd.SysProcAttr = attr
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = grace
}

// sweepGroup reaps stragglers the direct child left behind after a kill.
func sweepGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
