// Package install provisions the host for scheduled runs: the default
// configuration, an empty registry, and either systemd units or a cron.d
// entry for the schedule.
package install

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"

	"embed"
)

//go:embed templates/*.tmpl
var tmplFS embed.FS

var tmpl = template.Must(template.New("").ParseFS(tmplFS, "templates/*.tmpl"))

const (
	defaultBinary      = "/usr/local/bin/wpcronrun"
	defaultCrontabPath = "/etc/cron.d/wpcronrun"

	serviceUnit = "wpcronrun.service"
	timerUnit   = "wpcronrun.timer"

	// present in everything this package writes; overwrite refuses
	// shared-namespace files that lack it
	managedMarker = "managed by wpcronrun"
)

const configHeader = `# managed by wpcronrun install
# Every value below is the built-in default. Durations are strings like
# "500ms" or "5m".
`

const registryHeader = `# managed by wpcronrun install
# One site per line: path|user|method
# Methods: wp-cli, php-direct
`

// Installer writes the host artifacts. Zero fields fall back to the
// built-in paths, so cmd only sets what a flag overrode.
type Installer struct {
	ConfigPath   string
	RegistryPath string
	UnitDir      string
	Schedule     string // 5-field cron or a named macro
	Binary       string // absolute path run by the timer
	Crontab      bool   // write a cron.d entry instead of systemd units
	CrontabPath  string
	DryRun       bool // log intended writes, touch nothing
	Force        bool // overwrite existing managed files
	Log          *slog.Logger
}

type unitData struct {
	Binary     string
	ConfigPath string
	Schedule   string
	OnCalendar string
}

// Run validates the schedule, then writes config, registry, and the
// scheduling entry. Existing files are kept unless Force is set; files in
// shared namespaces (unit dir, cron.d) that were not written by this tool
// are never overwritten.
func (i *Installer) Run(ctx context.Context) error {
	logger := i.Log
	if logger == nil {
		logger = slog.Default()
	}

	cfgPath := orDefault(i.ConfigPath, model.DefaultConfigPath)
	regPath := orDefault(i.RegistryPath, model.DefaultRegistryPath)
	unitDir := orDefault(i.UnitDir, model.DefaultUnitDir)
	schedule := orDefault(i.Schedule, model.DefaultSchedule)
	binary := orDefault(i.Binary, defaultBinary)
	cronPath := orDefault(i.CrontabPath, defaultCrontabPath)

	if err := ParseSchedule(schedule); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	cfg, err := renderConfig()
	if err != nil {
		return err
	}
	if err := i.write(ctx, logger, cfgPath, cfg, 0o644, false); err != nil {
		return err
	}
	if err := i.write(ctx, logger, regPath, []byte(registryHeader), 0o600, false); err != nil {
		return err
	}

	data := unitData{Binary: binary, ConfigPath: cfgPath, Schedule: schedule}

	if i.Crontab {
		content, err := render("cron.d.tmpl", data)
		if err != nil {
			return err
		}
		return i.write(ctx, logger, cronPath, content, 0o644, true)
	}

	data.OnCalendar, err = OnCalendar(schedule)
	if err != nil {
		return fmt.Errorf("schedule %q: %w (install --crontab takes it as is)", schedule, err)
	}
	svc, err := render("wpcronrun.service.tmpl", data)
	if err != nil {
		return err
	}
	tmr, err := render("wpcronrun.timer.tmpl", data)
	if err != nil {
		return err
	}
	if err := i.write(ctx, logger, filepath.Join(unitDir, serviceUnit), svc, 0o644, true); err != nil {
		return err
	}
	if err := i.write(ctx, logger, filepath.Join(unitDir, timerUnit), tmr, 0o644, true); err != nil {
		return err
	}
	logger.InfoContext(ctx, "units installed", "hint", "systemctl enable --now "+timerUnit)
	return nil
}

func (i *Installer) write(ctx context.Context, logger *slog.Logger, path string, data []byte, mode os.FileMode, foreignGuard bool) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		if !i.Force {
			logger.InfoContext(ctx, "exists, keeping", "path", path)
			return nil
		}
		if foreignGuard {
			raw, rerr := os.ReadFile(path)
			if rerr != nil {
				return fmt.Errorf("inspecting %s: %w", path, rerr)
			}
			if !bytes.Contains(raw, []byte(managedMarker)) {
				return fmt.Errorf("%s exists and was not written by this tool, refusing to overwrite", path)
			}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if i.DryRun {
		logger.InfoContext(ctx, "would write", "path", path, "bytes", len(data))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	logger.InfoContext(ctx, "wrote", "path", path, "mode", mode.String())
	return nil
}

func renderConfig() ([]byte, error) {
	raw, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("rendering default config: %w", err)
	}
	var b bytes.Buffer
	b.WriteString(configHeader)
	b.Write(raw)
	return b.Bytes(), nil
}

func render(name string, data unitData) ([]byte, error) {
	var b bytes.Buffer
	if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return b.Bytes(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
