package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/discover"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/log"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/registry"
)

var (
	flagWrite bool
	flagDepth int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "discover finds WordPress installs under the allowed roots",
	RunE:  doDiscover,
}

func doDiscover(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("wpcronrun",
		slog.String("cmd", "discover"),
		slog.Int("pid", os.Getpid()),
	))
	logger := slog.Default()

	identity, err := policy.OpenPasswd("")
	if err != nil {
		return err
	}

	roots := get(config.Policy).AllowedRoots
	if len(roots) == 0 {
		roots = model.DefaultAllowedRoots
	}
	scanner := &discover.Scanner{
		Roots:    roots,
		MaxDepth: flagDepth,
		WPCLI:    or(get(config.Handler).WPCLI, model.DefaultWPCLIBinary),
		Resolver: identity,
		Log:      logger,
	}
	candidates, err := scanner.Discover(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		logger.InfoContext(ctx, "no sites found", "roots", roots)
		return nil
	}

	if !flagWrite {
		for _, c := range candidates {
			fmt.Println(c.Line())
		}
		return nil
	}

	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lines = append(lines, c.Line())
	}
	path := or(get(config.Registry).Path, model.DefaultRegistryPath)
	added, err := registry.Merge(path, lines)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "registry updated",
		slog.String("path", path),
		slog.Int("found", len(candidates)),
		slog.Int("added", added),
	)
	return nil
}
