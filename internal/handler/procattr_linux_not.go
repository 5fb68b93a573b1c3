//go:build !linux

package handler

import (
	"os/exec"
	"time"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
)

// Without process groups the runtime's default kill of the direct child is
// the best available; credential switching is Linux-only.
func configureCommand(cmd *exec.Cmd, acct policy.Account, drop bool, grace time.Duration) {
	cmd.WaitDelay = grace
}

func sweepGroup(cmd *exec.Cmd) {}
