package wpcronrun_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/dispatch"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/handler"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/registry"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/report"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/sysmon"
)

func TestMain(m *testing.M) {
	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// TestRunnerPipeline drives a whole batch the way the run command does:
// config file in, registry and site fixtures on disk, real subprocesses out.
func TestRunnerPipeline(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}

	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	root := filepath.Join(base, "home")
	require.NoError(t, os.MkdirAll(root, 0o755))

	alice := mkSite(t, root, "alice/public_html", true)
	bob := mkSite(t, root, "bob/public_html", false)

	// fake handler binaries record what they were invoked with
	phpLog := filepath.Join(base, "php-invocation")
	wpLog := filepath.Join(base, "wp-invocation")
	fakePHP := mkScript(t, base, "php", phpLog)
	fakeWP := mkScript(t, base, "wp", wpLog)

	uid := os.Getuid()
	passwdPath := filepath.Join(base, "passwd")
	creat(t, passwdPath, fmt.Sprintf("webuser:x:%d:%d::/home/webuser:/bin/sh\n", uid, os.Getgid()))

	outside := filepath.Join(base, "elsewhere/public_html")
	regPath := filepath.Join(base, "sites.list")
	creat(t, regPath, strings.Join([]string{
		"# fixture registry",
		alice + "|webuser|php-direct",
		bob + "|webuser|wp-cli",
		outside + "|webuser|php-direct",
		"not|enough",
		"",
	}, "\n"))
	require.NoError(t, os.Chmod(regPath, 0o600))

	cfgYAML := fmt.Sprintf(`
version: 0
registry:
    path: %q
    trusted_user: "webuser"
policy:
    allowed_roots:
        - %q
dispatch:
    max_parallel: 2
    stagger: "1ms"
    job_timeout: "30s"
handler:
    wp_cli: %q
    php: %q
log:
    format: "json"
    journal: false
`, regPath, root, fakeWP, fakePHP)

	cfg, err := model.LoadConfig(strings.NewReader(cfgYAML))
	require.NoError(t, err)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	ctx := t.Context()

	identity, err := policy.OpenPasswd(passwdPath)
	require.NoError(t, err)
	trusted, err := identity.Lookup(*cfg.Registry.TrustedUser)
	require.NoError(t, err)

	loader := registry.Loader{
		Path:    *cfg.Registry.Path,
		Trusted: trusted,
		Log:     logger,
	}
	records, invalid, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Len(t, invalid, 1)

	tally := report.NewTally("e2e", logger)
	for _, o := range invalid {
		tally.Add(ctx, o)
	}

	gate := policy.NewValidator(policy.Options{
		AllowedRoots: cfg.Policy.AllowedRoots,
		Identity:     identity,
		Log:          logger,
	})
	admitted, blocked := gate.Gate(ctx, records)
	require.Len(t, admitted, 2)
	require.Len(t, blocked, 1)
	for _, o := range blocked {
		tally.Add(ctx, o)
	}

	stagger, err := model.DurationOrDefault("dispatch.stagger", cfg.Dispatch.Stagger, 0)
	require.NoError(t, err)
	timeout, err := model.DurationOrDefault("dispatch.job_timeout", cfg.Dispatch.JobTimeout, 0)
	require.NoError(t, err)

	// real Monitor wiring, deterministic samples
	monitor := &sysmon.Monitor{
		CPUPercent: func(context.Context, time.Duration) (float64, error) { return 1, nil },
		LoadAvg:    func(context.Context) (float64, error) { return 0, nil },
		Log:        logger,
	}

	sched := &dispatch.Scheduler{
		MaxParallel: *cfg.Dispatch.MaxParallel,
		Stagger:     stagger,
		Monitor:     monitor,
		Invoker: &handler.Invoker{
			WPCLI:    *cfg.Handler.WPCLI,
			PHP:      *cfg.Handler.PHP,
			Timeout:  timeout,
			Identity: identity,
			Log:      logger,
		},
		Sink: func(o model.JobOutcome) { tally.Add(ctx, o) },
		Log:  logger,
	}
	_, err = sched.Run(ctx, admitted)
	require.NoError(t, err)

	s := tally.Summary()
	require.Equal(t, 4, s.Total)
	require.Equal(t, 2, s.Success)
	require.Equal(t, 1, s.Blocked)
	require.Equal(t, 1, s.Invalid)
	require.Zero(t, s.Failure)

	// php-direct ran wp-cron.php inside the site as the site owner
	phpGot, err := os.ReadFile(phpLog)
	require.NoError(t, err)
	require.Contains(t, string(phpGot), "USER=webuser")
	require.Contains(t, string(phpGot), "PWD="+alice)
	require.Contains(t, string(phpGot), filepath.Join(alice, "wp-cron.php"))

	// wp-cli got the standard event run arguments
	wpGot, err := os.ReadFile(wpLog)
	require.NoError(t, err)
	require.Contains(t, string(wpGot), "cron event run --due-now")
	require.Contains(t, string(wpGot), "--path="+bob)

	var rep bytes.Buffer
	require.NoError(t, report.Publish(ctx, tally, report.NewWriteSink(&rep)))
	var doc report.Document
	require.NoError(t, json.Unmarshal(rep.Bytes(), &doc))
	require.Equal(t, "e2e", doc.RunID)
	require.Equal(t, report.Counts{Success: 2, Blocked: 1, Invalid: 1}, doc.Counts)
	require.Len(t, doc.Outcomes, 4)
}

func mkSite(t *testing.T, root, rel string, withCron bool) string {
	t.Helper()
	dir := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	creat(t, filepath.Join(dir, "wp-config.php"), "<?php\n")
	if withCron {
		creat(t, filepath.Join(dir, "wp-cron.php"), "<?php\n")
	}
	return dir
}

func mkScript(t *testing.T, base, name, logPath string) string {
	t.Helper()
	path := filepath.Join(base, name)
	script := fmt.Sprintf("#!/bin/sh\necho \"USER=$USER PWD=$PWD $*\" > %q\n", logPath)
	creat(t, path, script)
	require.NoError(t, os.Chmod(path, 0o755))
	return path
}

func creat(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
