package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/dispatch"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/handler"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/log"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/registry"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/report"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/sysmon"
)

var flagReport bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes every registry entry once and reports the batch",
	RunE:  doRun,
}

func doRun(cmd *cobra.Command, _ []string) error {
	runID := uuid.New().String()
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("wpcronrun",
		slog.String("cmd", "run"),
		slog.String("run_id", runID),
		slog.Int("pid", os.Getpid()),
	))
	logger := slog.Default()

	identity, err := policy.OpenPasswd("")
	if err != nil {
		return err
	}
	regCfg := get(config.Registry)
	trusted, err := identity.Lookup(or(regCfg.TrustedUser, model.DefaultTrustedUser))
	if err != nil {
		return fmt.Errorf("registry trusted user: %w", err)
	}

	if os.Geteuid() != 0 {
		logger.WarnContext(ctx, "running without root, jobs keep the current uid")
	}

	loader := registry.Loader{
		Path:       or(regCfg.Path, model.DefaultRegistryPath),
		Trusted:    trusted,
		MaxEntries: or(regCfg.MaxEntries, model.DefaultMaxEntries),
		Log:        logger,
	}
	records, invalid, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	tally := report.NewTally(runID, logger)
	for _, o := range invalid {
		tally.Add(ctx, o)
	}

	polCfg := get(config.Policy)
	gate := policy.NewValidator(policy.Options{
		AllowedRoots:       polCfg.AllowedRoots,
		DeniedUsers:        polCfg.DeniedUsers,
		DeniedUserPrefixes: polCfg.DeniedUserPrefixes,
		Identity:           identity,
		Log:                logger,
	})
	admitted, blocked := gate.Gate(ctx, records)
	for _, o := range blocked {
		tally.Add(ctx, o)
	}
	logger.InfoContext(ctx, "registry loaded",
		slog.Int("admitted", len(admitted)),
		slog.Int("blocked", len(blocked)),
		slog.Int("invalid", len(invalid)),
	)

	dispCfg := get(config.Dispatch)
	thrCfg := get(dispCfg.Throttle)
	stagger, err := model.DurationOrDefault("dispatch.stagger", dispCfg.Stagger, 0)
	if err != nil {
		return err
	}
	jobTimeout, err := model.DurationOrDefault("dispatch.job_timeout", dispCfg.JobTimeout, 0)
	if err != nil {
		return err
	}
	backoff, err := model.DurationOrDefault("dispatch.throttle.backoff", thrCfg.Backoff, 0)
	if err != nil {
		return err
	}
	sample, err := model.DurationOrDefault("dispatch.throttle.sample", thrCfg.Sample, 0)
	if err != nil {
		return err
	}

	handCfg := get(config.Handler)
	invoker := &handler.Invoker{
		WPCLI:          or(handCfg.WPCLI, model.DefaultWPCLIBinary),
		PHP:            or(handCfg.PHP, model.DefaultPHPBinary),
		Timeout:        jobTimeout,
		DropPrivileges: os.Geteuid() == 0,
		Identity:       identity,
		Log:            logger,
	}
	monitor := &sysmon.Monitor{
		CPUThreshold: or(thrCfg.CPUPercent, 0),
		LoadFactor:   or(thrCfg.LoadFactor, 0),
		Sample:       sample,
		Log:          logger,
	}
	sched := &dispatch.Scheduler{
		MaxParallel: or(dispCfg.MaxParallel, 0),
		Stagger:     stagger,
		Backoff:     backoff,
		Monitor:     monitor,
		Invoker:     invoker,
		Sink: func(o model.JobOutcome) {
			tally.Add(ctx, o)
		},
		Log: logger,
	}

	_, runErr := sched.Run(ctx, admitted)
	tally.Log(ctx)

	var sinks []report.Sink
	if flagReport {
		sinks = append(sinks, report.NewWriteSink(os.Stdout))
	}
	if dir := get(get(config.Summary).Dir); dir != "" {
		dirSink, err := report.NewDirSink(dir)
		if err != nil {
			logger.ErrorContext(ctx, "summary dir unavailable", "error", err)
		} else {
			sinks = append(sinks, dirSink)
		}
	}
	pubErr := report.Publish(ctx, tally, sinks...)
	report.CloseSinks(ctx, sinks)

	if runErr != nil {
		return runErr
	}
	return pubErr
}

func get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}

// or falls back on nil and on the zero value; bools go through boolOr so an
// explicit false survives.
func or[T comparable](pt *T, def T) T {
	var zero T
	if pt == nil || *pt == zero {
		return def
	}
	return *pt
}

func boolOr(pt *bool, def bool) bool {
	if pt == nil {
		return def
	}
	return *pt
}
