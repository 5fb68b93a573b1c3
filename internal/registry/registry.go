package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
)

// Loader reads the site registry and enforces file-level trust. The file is
// re-read fully on every invocation; nothing is cached between runs.
type Loader struct {
	Path       string         // registry file; model.DefaultRegistryPath when empty
	Trusted    policy.Account // account that must own the file
	MaxEntries int            // active-line ceiling; model.DefaultMaxEntries when 0
	Log        *slog.Logger
}

// Load returns records in file order plus a StatusInvalid outcome per
// malformed line. A fatal error (registry missing, untrusted, oversized)
// means zero jobs run.
func (l *Loader) Load(ctx context.Context) ([]model.SiteRecord, []model.JobOutcome, error) {
	path := l.Path
	if path == "" {
		path = model.DefaultRegistryPath
	}
	max := l.MaxEntries
	if max <= 0 {
		max = model.DefaultMaxEntries
	}
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", path, model.ErrRegistryNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("stat registry: %w", err)
	}
	if fi.IsDir() {
		return nil, nil, fmt.Errorf("%s is a directory: %w", path, model.ErrRegistryNotFound)
	}

	uid, ok := policy.OwnerUID(fi)
	if !ok {
		return nil, nil, fmt.Errorf("%s: ownership not verifiable: %w", path, model.ErrUntrustedOwner)
	}
	if uid != l.Trusted.UID {
		return nil, nil, fmt.Errorf("%s owned by uid %d, want %s (uid %d): %w",
			path, uid, l.Trusted.Name, l.Trusted.UID, model.ErrUntrustedOwner)
	}

	// Tighten over-permissive modes in place. Bits are only ever cleared.
	if loose := fi.Mode().Perm() &^ 0o600; loose != 0 {
		tightened := fi.Mode().Perm() & 0o600
		logger.WarnContext(ctx, "registry permissions too open, tightening",
			slog.String("path", path),
			slog.String("mode", fi.Mode().Perm().String()),
			slog.String("tightened", tightened.String()),
		)
		if err := os.Chmod(path, tightened); err != nil {
			return nil, nil, fmt.Errorf("tighten registry permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read registry: %w", err)
	}

	var (
		records []model.SiteRecord
		invalid []model.JobOutcome
		active  int
	)
	for i, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		active++
		if active > max {
			return nil, nil, fmt.Errorf("%s has more than %d active entries: %w",
				path, max, model.ErrTooManyEntries)
		}

		rec, reason := parseLine(line)
		if reason != "" {
			invalid = append(invalid, model.JobOutcome{
				Status: model.StatusInvalid,
				Path:   rec.Path,
				Owner:  rec.Owner,
				Detail: fmt.Sprintf("line %d: %s", i+1, reason),
			})
			continue
		}
		rec.Line = i + 1
		records = append(records, rec)
	}

	logger.DebugContext(ctx, "registry loaded",
		slog.String("path", path),
		slog.Int("records", len(records)),
		slog.Int("invalid", len(invalid)),
	)
	return records, invalid, nil
}

// parseLine splits one active registry line. The path is kept exactly as
// written: the security policy inspects the raw string for traversal, so no
// normalization may happen here.
func parseLine(line string) (model.SiteRecord, string) {
	fields := strings.Split(line, "|")
	if len(fields) != 3 {
		return model.SiteRecord{}, fmt.Sprintf("want 3 pipe-delimited fields, got %d", len(fields))
	}

	rec := model.SiteRecord{
		Path:  strings.TrimSpace(fields[0]),
		Owner: strings.TrimSpace(fields[1]),
	}
	if rec.Path == "" {
		return rec, "empty path field"
	}
	if !filepath.IsAbs(rec.Path) {
		return rec, fmt.Sprintf("path %q is not absolute", rec.Path)
	}
	if rec.Owner == "" {
		return rec, "empty user field"
	}

	method, err := model.ParseMethod(strings.TrimSpace(fields[2]))
	if err != nil {
		return rec, err.Error()
	}
	rec.Method = method
	return rec, ""
}
