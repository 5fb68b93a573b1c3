package install_test

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/install"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newInstaller(t *testing.T) (*install.Installer, string) {
	t.Helper()
	base := t.TempDir()
	return &install.Installer{
		ConfigPath:   filepath.Join(base, "etc/wpcronrun/config.yaml"),
		RegistryPath: filepath.Join(base, "etc/wpcronrun/sites.list"),
		UnitDir:      filepath.Join(base, "units"),
		Binary:       "/usr/local/bin/wpcronrun",
		Log:          discard(),
	}, base
}

func TestInstall(t *testing.T) {
	t.Parallel()

	ins, _ := newInstaller(t)
	require.NoError(t, ins.Run(t.Context()))

	// the rendered config round-trips through the schema as the defaults
	raw, err := os.ReadFile(ins.ConfigPath)
	require.NoError(t, err)
	loaded, err := model.LoadConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), loaded)

	fi, err := os.Stat(ins.RegistryPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	reg, err := os.ReadFile(ins.RegistryPath)
	require.NoError(t, err)
	require.Contains(t, string(reg), "path|user|method")

	svc, err := os.ReadFile(filepath.Join(ins.UnitDir, "wpcronrun.service"))
	require.NoError(t, err)
	require.Contains(t, string(svc), "Type=oneshot")
	require.Contains(t, string(svc), "ExecStart=/usr/local/bin/wpcronrun run --config "+ins.ConfigPath)

	tmr, err := os.ReadFile(filepath.Join(ins.UnitDir, "wpcronrun.timer"))
	require.NoError(t, err)
	require.Contains(t, string(tmr), "OnCalendar=*-*-* *:0/5:00")
	require.Contains(t, string(tmr), "WantedBy=timers.target")
}

func TestInstall_KeepsExistingWithoutForce(t *testing.T) {
	t.Parallel()

	ins, _ := newInstaller(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(ins.ConfigPath), 0o755))
	custom := []byte("version: 0\n# operator tuned\n")
	require.NoError(t, os.WriteFile(ins.ConfigPath, custom, 0o644))

	require.NoError(t, ins.Run(t.Context()))

	raw, err := os.ReadFile(ins.ConfigPath)
	require.NoError(t, err)
	require.Equal(t, custom, raw)
}

func TestInstall_ForceOverwritesManaged(t *testing.T) {
	t.Parallel()

	ins, _ := newInstaller(t)
	require.NoError(t, ins.Run(t.Context()))

	timer := filepath.Join(ins.UnitDir, "wpcronrun.timer")
	require.NoError(t, os.WriteFile(timer, []byte("# managed by wpcronrun install\n[Timer]\nOnCalendar=hourly\n"), 0o644))

	ins.Force = true
	ins.Schedule = "0 3 * * *"
	require.NoError(t, ins.Run(t.Context()))

	raw, err := os.ReadFile(timer)
	require.NoError(t, err)
	require.Contains(t, string(raw), "OnCalendar=*-*-* 3:0:00")
}

func TestInstall_RefusesForeignUnit(t *testing.T) {
	t.Parallel()

	ins, _ := newInstaller(t)
	require.NoError(t, os.MkdirAll(ins.UnitDir, 0o755))
	foreign := []byte("[Service]\nExecStart=/opt/other\n")
	service := filepath.Join(ins.UnitDir, "wpcronrun.service")
	require.NoError(t, os.WriteFile(service, foreign, 0o644))

	ins.Force = true
	err := ins.Run(t.Context())
	require.ErrorContains(t, err, "refusing to overwrite")

	raw, err := os.ReadFile(service)
	require.NoError(t, err)
	require.Equal(t, foreign, raw)
}

func TestInstall_DryRun(t *testing.T) {
	t.Parallel()

	ins, _ := newInstaller(t)
	ins.DryRun = true
	require.NoError(t, ins.Run(t.Context()))

	_, err := os.Stat(ins.ConfigPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(ins.UnitDir)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestInstall_Crontab(t *testing.T) {
	t.Parallel()

	ins, base := newInstaller(t)
	ins.Crontab = true
	ins.CrontabPath = filepath.Join(base, "cron.d/wpcronrun")
	require.NoError(t, ins.Run(t.Context()))

	raw, err := os.ReadFile(ins.CrontabPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "*/5 * * * * root /usr/local/bin/wpcronrun run --config "+ins.ConfigPath)

	_, err = os.Stat(filepath.Join(ins.UnitDir, "wpcronrun.timer"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestInstall_BadSchedule(t *testing.T) {
	t.Parallel()

	ins, _ := newInstaller(t)
	ins.Schedule = "61 * * * *"
	require.ErrorContains(t, ins.Run(t.Context()), "schedule")
}
