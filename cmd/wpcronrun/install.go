package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/install"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/log"
)

var (
	flagCrontab bool
	flagDryRun  bool
	flagForce   bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "install writes the default config, registry, and schedule entry",
	RunE:  doInstall,
}

func doInstall(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("wpcronrun",
		slog.String("cmd", "install"),
		slog.Int("pid", os.Getpid()),
	))
	logger := slog.Default()

	// the timer must point at this build, not at whatever PATH finds
	binary, err := os.Executable()
	if err != nil {
		binary = ""
	}

	instCfg := get(config.Install)
	ins := &install.Installer{
		ConfigPath:   configPath,
		RegistryPath: get(get(config.Registry).Path),
		UnitDir:      get(instCfg.UnitDir),
		Schedule:     get(config.Schedule),
		Binary:       binary,
		Crontab:      flagCrontab || boolOr(instCfg.Crontab, false),
		DryRun:       flagDryRun,
		Force:        flagForce,
		Log:          logger,
	}
	return ins.Run(ctx)
}
