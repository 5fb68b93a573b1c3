// Package discover scans the allowed roots for WordPress installations and
// turns each one into a registry candidate.
package discover

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/log"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
)

const (
	markerFile = "wp-config.php"

	// DefaultMaxDepth reaches Virtualmin sub-server layouts like
	// <root>/<user>/domains/<domain>/public_html without descending into
	// the install itself.
	DefaultMaxDepth = 5

	defaultLimit = 4
)

// Candidate is one discovered site, ready to become a registry line.
type Candidate struct {
	Path   string
	Owner  string
	Method model.Method
}

// Line renders the candidate in registry format.
func (c Candidate) Line() string {
	return c.Path + "|" + c.Owner + "|" + c.Method.String()
}

// Resolver maps a filesystem uid to its account.
type Resolver interface {
	LookupUID(uid uint32) (policy.Account, error)
}

// Scanner finds WordPress installs under the allowed roots.
type Scanner struct {
	Roots    []string
	MaxDepth int // directory levels below each root, DefaultMaxDepth when 0
	Limit    int // parallel ownership probes, 4 when 0

	WPCLI    string // wp-cli binary name, decides the method for every candidate
	Resolver Resolver

	// LookPath exists as a seam for tests; exec.LookPath when nil.
	LookPath func(file string) (string, error)

	Log *slog.Logger
}

// Discover walks every root for wp-config.php markers, probes each hit for
// ownership in parallel, and returns the deduplicated candidates sorted by
// path. Probe failures drop the single candidate, never the scan.
func (s *Scanner) Discover(ctx context.Context) ([]Candidate, error) {
	logger := s.Log
	if logger == nil {
		logger = slog.Default()
	}
	limit := s.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	roots := make([]*os.Root, 0, len(s.Roots))
	defer func() {
		for _, root := range roots {
			_ = root.Close()
		}
	}()
	for _, path := range s.Roots {
		root, err := os.OpenRoot(path)
		if err != nil {
			return nil, fmt.Errorf("opening discovery root: %w", err)
		}
		roots = append(roots, root)
	}

	method := s.method()
	pm := newParallelMap(ctx, limit, func(ctx context.Context, dir string) (Candidate, error) {
		return s.probe(ctx, dir, method)
	})

	seen := make(map[string]struct{})
	var candidates []Candidate
	for c, err := range pm.iter(sites(ctx, maxDepth, roots...)) {
		if err != nil {
			logger.DebugContext(ctx, "candidate dropped", "error", err)
			continue
		}
		if _, ok := seen[c.Path]; ok {
			continue
		}
		seen[c.Path] = struct{}{}
		candidates = append(candidates, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(candidates, func(a, b Candidate) int {
		return strings.Compare(a.Path, b.Path)
	})
	return candidates, nil
}

// method picks wp-cli when the binary resolves, php-direct otherwise. One
// probe covers the whole batch since PATH does not change mid-run.
func (s *Scanner) method() model.Method {
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	wpcli := s.WPCLI
	if wpcli == "" {
		wpcli = model.DefaultWPCLIBinary
	}
	if _, err := lookPath(wpcli); err == nil {
		return model.MethodWPCLI
	}
	return model.MethodPHPDirect
}

func (s *Scanner) probe(ctx context.Context, dir string, method model.Method) (Candidate, error) {
	ctx = log.ContextAttrs(ctx, slog.String("path", dir))
	if ctx.Err() != nil {
		return Candidate{}, ctx.Err()
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return Candidate{}, fmt.Errorf("probe stat: %w", err)
	}
	uid, ok := policy.OwnerUID(fi)
	if !ok {
		return Candidate{}, fmt.Errorf("probe %s: owner not available", dir)
	}
	acct, err := s.Resolver.LookupUID(uid)
	if err != nil {
		return Candidate{}, fmt.Errorf("probe owner: %w", err)
	}
	if s.Log != nil {
		s.Log.DebugContext(ctx, "site found", "owner", acct.Name)
	}
	return Candidate{Path: dir, Owner: acct.Name, Method: method}, nil
}

// sites yields the directory of every wp-config.php under the roots. The
// walk is depth-bounded and does not follow symlinks.
func sites(ctx context.Context, maxDepth int, roots ...*os.Root) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		for _, root := range roots {
			if stopped {
				return
			}
			fn := func(path string, d fs.DirEntry, err error) error {
				if ctx.Err() != nil {
					return fs.SkipAll
				}
				if err != nil {
					if !yield("", err) {
						stopped = true
						return fs.SkipAll
					}
					return nil
				}
				if d.IsDir() {
					if path == "." {
						return nil
					}
					if strings.Count(path, "/")+1 >= maxDepth {
						return fs.SkipDir
					}
					return nil
				}
				if d.Name() != markerFile || !d.Type().IsRegular() {
					return nil
				}
				site := filepath.Join(root.Name(), filepath.Dir(path))
				if !yield(site, nil) {
					stopped = true
					return fs.SkipAll
				}
				return nil
			}
			_ = fs.WalkDir(root.FS(), ".", fn)
		}
	}
}
