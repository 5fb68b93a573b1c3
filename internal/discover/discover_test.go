package discover_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/discover"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/policy"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[uint32]policy.Account

func (r fakeResolver) LookupUID(uid uint32) (policy.Account, error) {
	a, ok := r[uid]
	if !ok {
		return policy.Account{}, fmt.Errorf("uid %d: %w", uid, policy.ErrUnknownAccount)
	}
	return a, nil
}

func selfResolver(name string) fakeResolver {
	uid := uint32(os.Getuid())
	return fakeResolver{uid: {Name: name, UID: uid}}
}

func mkSite(t *testing.T, base string, rel string) string {
	t.Helper()
	dir := filepath.Join(base, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wp-config.php"), []byte("<?php\n"), 0o644))
	return dir
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWPCLI(string) (string, error) {
	return "", errors.New("not found")
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	alice := mkSite(t, root, "alice/public_html")
	bob := mkSite(t, root, "bob/public_html")
	// no marker, must not appear
	require.NoError(t, os.MkdirAll(filepath.Join(root, "carol/public_html"), 0o755))
	// beyond the depth bound, must not appear
	mkSite(t, root, "alice/public_html/a/b/c")

	s := &discover.Scanner{
		Roots:    []string{root},
		Resolver: selfResolver("webuser"),
		LookPath: noWPCLI,
		Log:      discard(),
	}

	got, err := s.Discover(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, alice, got[0].Path)
	require.Equal(t, bob, got[1].Path)
	for _, c := range got {
		require.Equal(t, "webuser", c.Owner)
		require.Equal(t, model.MethodPHPDirect, c.Method)
	}
}

func TestDiscover_SubServerDepth(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	nested := mkSite(t, root, "alice/domains/shop.example.com/public_html")

	s := &discover.Scanner{
		Roots:    []string{root},
		Resolver: selfResolver("alice"),
		LookPath: noWPCLI,
		Log:      discard(),
	}

	got, err := s.Discover(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, nested, got[0].Path)
}

func TestDiscover_WPCLIPreferred(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkSite(t, root, "alice/public_html")

	s := &discover.Scanner{
		Roots:    []string{root},
		Resolver: selfResolver("alice"),
		LookPath: func(file string) (string, error) { return "/usr/local/bin/" + file, nil },
		Log:      discard(),
	}

	got, err := s.Discover(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.MethodWPCLI, got[0].Method)
}

func TestDiscover_UnknownOwnerDropped(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkSite(t, root, "alice/public_html")

	s := &discover.Scanner{
		Roots:    []string{root},
		Resolver: fakeResolver{}, // nobody resolves
		LookPath: noWPCLI,
		Log:      discard(),
	}

	got, err := s.Discover(t.Context())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDiscover_DuplicateRoots(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkSite(t, root, "alice/public_html")

	s := &discover.Scanner{
		Roots:    []string{root, root},
		Resolver: selfResolver("alice"),
		LookPath: noWPCLI,
		Log:      discard(),
	}

	got, err := s.Discover(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestDiscover_MissingRoot(t *testing.T) {
	t.Parallel()

	s := &discover.Scanner{
		Roots:    []string{filepath.Join(t.TempDir(), "absent")},
		Resolver: selfResolver("alice"),
		LookPath: noWPCLI,
		Log:      discard(),
	}

	_, err := s.Discover(t.Context())
	require.ErrorContains(t, err, "opening discovery root")
}

func TestCandidateLine(t *testing.T) {
	t.Parallel()

	c := discover.Candidate{
		Path:   "/home/alice/public_html",
		Owner:  "alice",
		Method: model.MethodWPCLI,
	}
	require.Equal(t, "/home/alice/public_html|alice|wp-cli", c.Line())
}
