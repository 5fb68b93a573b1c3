package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
)

const (
	defaultKillGrace = 10 * time.Second
	maxCapture       = 64 << 10
)

// Invoker runs the per-site task handler as a subprocess. It observes only
// the exit status and elapsed time; output is captured in bounded buffers
// for debug logging and never interpreted.
type Invoker struct {
	WPCLI     string        // wp binary; model.DefaultWPCLIBinary when empty
	PHP       string        // php binary; model.DefaultPHPBinary when empty
	Timeout   time.Duration // per-job wall clock; model.DefaultJobTimeout when 0
	KillGrace time.Duration // SIGTERM to SIGKILL delay; 10s when 0

	// DropPrivileges switches the subprocess to the site owner's uid/gid.
	// Requires the invoking process to run as root.
	DropPrivileges bool

	Identity policy.Store
	Log      *slog.Logger
}

// Invoke runs the record's task handler to completion and reports the
// terminal outcome. It never returns an error: every way a job can go
// wrong is a Failure outcome with a detail.
func (inv *Invoker) Invoke(ctx context.Context, rec model.SiteRecord) model.JobOutcome {
	logger := inv.Log
	if logger == nil {
		logger = slog.Default()
	}

	outcome := model.JobOutcome{
		Status: model.StatusFailure,
		Path:   rec.Path,
		Owner:  rec.Owner,
		Method: rec.Method,
	}

	acct, err := inv.Identity.Lookup(rec.Owner)
	if err != nil {
		outcome.Detail = fmt.Sprintf("identity lookup: %v", err)
		return outcome
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout, _ = model.ParseDurationField("job_timeout", model.DefaultJobTimeout)
	}
	grace := inv.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := inv.argv(rec)
	cmd := exec.CommandContext(jobCtx, name, args...)
	cmd.Dir = rec.Path
	cmd.Env = []string{
		"HOME=" + acct.Home,
		"USER=" + acct.Name,
		"LOGNAME=" + acct.Name,
		"PATH=" + os.Getenv("PATH"),
	}
	stdout := newCaptureBuffer(maxCapture)
	stderr := newCaptureBuffer(maxCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureCommand(cmd, acct, inv.DropPrivileges, grace)

	logger.DebugContext(ctx, "launching task handler",
		slog.String("path", rec.Path),
		slog.String("owner", rec.Owner),
		slog.String("binary", name),
		slog.Duration("timeout", timeout),
	)

	started := time.Now()
	runErr := cmd.Run()
	outcome.Duration = time.Since(started)

	switch {
	case runErr == nil:
		outcome.Status = model.StatusSuccess
	case ctx.Err() != nil:
		sweepGroup(cmd)
		outcome.Detail = "terminated by interrupt"
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		sweepGroup(cmd)
		outcome.Detail = fmt.Sprintf("timeout after %s", timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			outcome.Detail = exitErr.Error()
		} else {
			outcome.Detail = fmt.Sprintf("start failed: %v", runErr)
		}
	}

	if outcome.Status != model.StatusSuccess {
		logger.DebugContext(ctx, "task handler failed",
			slog.String("path", rec.Path),
			slog.String("detail", outcome.Detail),
			slog.String("stdout", stdout.String()),
			slog.String("stderr", stderr.String()),
		)
	}
	return outcome
}

// argv resolves the handler command line for the record's method.
func (inv *Invoker) argv(rec model.SiteRecord) (string, []string) {
	switch rec.Method {
	case model.MethodPHPDirect:
		php := inv.PHP
		if php == "" {
			php = model.DefaultPHPBinary
		}
		return php, []string{filepath.Join(rec.Path, "wp-cron.php")}
	default:
		wp := inv.WPCLI
		if wp == "" {
			wp = model.DefaultWPCLIBinary
		}
		return wp, []string{
			"cron", "event", "run", "--due-now",
			"--path=" + rec.Path,
			"--skip-plugins", "--skip-themes",
		}
	}
}
