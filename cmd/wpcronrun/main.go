package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/log"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"

	"github.com/spf13/cobra"
)

var (
	configPath string // actual config file used (if loaded)
	config     model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+model.DefaultConfigPath+" or wpcronrun.yaml in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initRunner

	runCmd.Flags().BoolVar(&flagReport, "report", false, "print the run report as JSON to stdout")
	discoverCmd.Flags().BoolVar(&flagWrite, "write", false, "merge found sites into the registry instead of printing them")
	discoverCmd.Flags().IntVar(&flagDepth, "depth", 0, "directory depth searched below each allowed root")
	installCmd.Flags().BoolVar(&flagCrontab, "crontab", false, "write a cron.d entry instead of systemd units")
	installCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log what would be written, write nothing")
	installCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite existing managed files")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, model.ErrInterrupted) || errors.Is(err, context.Canceled) {
			slog.Warn("wpcronrun interrupted", "err", err)
			os.Exit(130)
		}
		slog.Error("wpcronrun failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "wpcronrun",
	Short:        "Centralized cron runner for WordPress sites",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("wpcronrun: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("wpcronrun: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

func initRunner(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("WPCRONRUN_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, path := range []string{model.DefaultConfigPath, "wpcronrun.yaml"} {
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		// nothing installed yet, run on the built-in defaults
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over config file
	logCfg := get(config.Log)
	logger := log.New(log.Options{
		Verbose: flagVerbose || boolOr(logCfg.Verbose, false),
		Format:  or(logCfg.Format, model.LogFormatText),
		Journal: boolOr(logCfg.Journal, true),
		Tag:     or(logCfg.Tag, model.DefaultLogTag),
		Writer:  os.Stderr,
	})
	slog.SetDefault(logger)

	slog.Debug("configured", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
