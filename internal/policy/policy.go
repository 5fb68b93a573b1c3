package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
)

// Violation is a rejected record. Check names the failed rule, Reason says
// what was seen. A violation blocks one record, never the batch.
type Violation struct {
	Check  string
	Reason string
}

func (v *Violation) Error() string {
	return v.Check + ": " + v.Reason
}

// Accounts that never own a dispatched job, regardless of what the registry
// claims. Extended, not replaced, by configuration.
var DefaultDeniedUsers = []string{
	"root",
	"daemon",
	"bin",
	"sys",
	"nobody",
	"www-data",
	"backup",
	"mail",
	"ftp",
	"sshd",
	"mysql",
	"postgres",
}

// DefaultDeniedUserPrefixes catches service-account naming conventions.
var DefaultDeniedUserPrefixes = []string{"systemd-", "_"}

// disabledShells hard-block an account. An unknown shell only warns.
var disabledShells = map[string]struct{}{
	"/sbin/nologin":     {},
	"/usr/sbin/nologin": {},
	"/bin/nologin":      {},
	"/bin/false":        {},
	"/usr/bin/false":    {},
}

var loginShells = map[string]struct{}{
	"/bin/bash":     {},
	"/usr/bin/bash": {},
	"/bin/sh":       {},
	"/usr/bin/sh":   {},
	"/bin/dash":     {},
	"/usr/bin/dash": {},
	"/bin/zsh":      {},
	"/usr/bin/zsh":  {},
	"/bin/ksh":      {},
	"/usr/bin/ksh":  {},
	"/usr/bin/fish": {},
}

const (
	markerFile = "wp-config.php"
	cronFile   = "wp-cron.php"
)

// Validator applies the per-record security policy. Every record the
// scheduler sees has passed Validate; nothing bypasses it.
type Validator struct {
	allowedRoots       []string
	deniedUsers        []string
	deniedUserPrefixes []string
	identity           Store
	log                *slog.Logger
}

// Options configures a Validator. Zero values fall back to the built-in
// policy; Identity is required.
type Options struct {
	AllowedRoots       []string
	DeniedUsers        []string // appended to DefaultDeniedUsers
	DeniedUserPrefixes []string // appended to DefaultDeniedUserPrefixes
	Identity           Store
	Log                *slog.Logger
}

func NewValidator(opts Options) *Validator {
	roots := opts.AllowedRoots
	if len(roots) == 0 {
		roots = model.DefaultAllowedRoots
	}
	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		allowedRoots:       slices.Clone(roots),
		deniedUsers:        append(slices.Clone(DefaultDeniedUsers), opts.DeniedUsers...),
		deniedUserPrefixes: append(slices.Clone(DefaultDeniedUserPrefixes), opts.DeniedUserPrefixes...),
		identity:           opts.Identity,
		log:                logger,
	}
}

// Validate runs the ordered checks and returns nil or the first *Violation.
func (v *Validator) Validate(ctx context.Context, rec model.SiteRecord) error {
	if strings.Contains(rec.Path, "..") {
		return &Violation{Check: "traversal", Reason: "path contains a parent-directory segment"}
	}

	if !v.underAllowedRoot(rec.Path) {
		return &Violation{
			Check:  "allowed-root",
			Reason: fmt.Sprintf("path %s is outside the allowed roots %v", rec.Path, v.allowedRoots),
		}
	}

	resolved, err := filepath.EvalSymlinks(rec.Path)
	if err != nil {
		return &Violation{Check: "resolve", Reason: fmt.Sprintf("path does not resolve: %v", err)}
	}
	if !v.underAllowedRoot(resolved) {
		return &Violation{
			Check:  "containment",
			Reason: fmt.Sprintf("path resolves to %s, outside the allowed roots", resolved),
		}
	}

	acct, verr := v.checkOwnerAccount(ctx, rec.Owner)
	if verr != nil {
		return verr
	}

	marker := filepath.Join(rec.Path, markerFile)
	if fi, err := os.Stat(marker); err != nil || !fi.Mode().IsRegular() {
		return &Violation{Check: "wp-config", Reason: markerFile + " not found under path"}
	}

	fi, err := os.Stat(rec.Path)
	if err != nil {
		return &Violation{Check: "path-owner", Reason: fmt.Sprintf("cannot stat path: %v", err)}
	}
	uid, ok := OwnerUID(fi)
	if !ok {
		return &Violation{Check: "path-owner", Reason: "path ownership not verifiable on this platform"}
	}
	if uid != acct.UID {
		return &Violation{
			Check:  "path-owner",
			Reason: fmt.Sprintf("path owned by uid %d, record names %s (uid %d)", uid, acct.Name, acct.UID),
		}
	}

	if rec.Method == model.MethodPHPDirect {
		cron := filepath.Join(rec.Path, cronFile)
		if fi, err := os.Stat(cron); err != nil || !fi.Mode().IsRegular() {
			return &Violation{Check: "wp-cron", Reason: cronFile + " not found under path"}
		}
	}

	return nil
}

// Gate partitions records into admitted ones and blocked outcomes. One
// blocked record never aborts the batch.
func (v *Validator) Gate(ctx context.Context, recs []model.SiteRecord) ([]model.SiteRecord, []model.JobOutcome) {
	admitted := make([]model.SiteRecord, 0, len(recs))
	var blocked []model.JobOutcome
	for _, rec := range recs {
		if err := v.Validate(ctx, rec); err != nil {
			blocked = append(blocked, model.JobOutcome{
				Status: model.StatusBlocked,
				Path:   rec.Path,
				Owner:  rec.Owner,
				Method: rec.Method,
				Detail: err.Error(),
			})
			continue
		}
		v.log.DebugContext(ctx, "record admitted",
			slog.String("path", rec.Path),
			slog.String("owner", rec.Owner),
			slog.String("method", rec.Method.String()),
		)
		admitted = append(admitted, rec)
	}
	return admitted, blocked
}

func (v *Validator) underAllowedRoot(path string) bool {
	for _, root := range v.allowedRoots {
		root = strings.TrimRight(root, "/")
		if root == "" {
			continue
		}
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

func (v *Validator) checkOwnerAccount(ctx context.Context, owner string) (Account, *Violation) {
	if slices.Contains(v.deniedUsers, owner) {
		return Account{}, &Violation{Check: "owner-denied", Reason: fmt.Sprintf("account %s is denied", owner)}
	}
	for _, prefix := range v.deniedUserPrefixes {
		if strings.HasPrefix(owner, prefix) {
			return Account{}, &Violation{
				Check:  "owner-denied",
				Reason: fmt.Sprintf("account %s matches denied prefix %s", owner, prefix),
			}
		}
	}

	acct, err := v.identity.Lookup(owner)
	if err != nil {
		return Account{}, &Violation{Check: "owner-unknown", Reason: fmt.Sprintf("account %s not in the identity database", owner)}
	}

	if _, disabled := disabledShells[acct.Shell]; disabled {
		return Account{}, &Violation{
			Check:  "owner-shell",
			Reason: fmt.Sprintf("account %s has disabled shell %s", owner, acct.Shell),
		}
	}
	if _, known := loginShells[acct.Shell]; !known {
		v.log.WarnContext(ctx, "account has unrecognized login shell",
			slog.String("owner", owner),
			slog.String("shell", acct.Shell),
		)
	}

	return acct, nil
}
