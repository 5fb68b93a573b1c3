package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.list")
	seed := "# managed by wpcronrun discover\n/home/alice/public_html|alice|wp-cli\n"
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	added, err := registry.Merge(path, []string{
		"/home/alice/public_html|alice|php-direct", // same path, still a duplicate
		"/home/bob/public_html|bob|wp-cli",
	})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	want := seed + "/home/bob/public_html|bob|wp-cli\n"
	require.Equal(t, want, string(raw))

	// a second run changes nothing
	added, err = registry.Merge(path, []string{"/home/bob/public_html|bob|wp-cli"})
	require.NoError(t, err)
	require.Zero(t, added)
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, string(raw))
}

func TestMerge_CreatesRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.list")
	added, err := registry.Merge(path, []string{"/home/a/public_html|a|wp-cli"})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestMerge_MissingTrailingNewline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.list")
	require.NoError(t, os.WriteFile(path, []byte("/home/a/public_html|a|wp-cli"), 0o600))

	added, err := registry.Merge(path, []string{"/home/b/public_html|b|wp-cli"})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "/home/a/public_html|a|wp-cli\n/home/b/public_html|b|wp-cli\n", string(raw))
}

func TestMerge_SkipsMalformedCandidates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.list")
	added, err := registry.Merge(path, []string{"no pipes here"})
	require.NoError(t, err)
	require.Zero(t, added)
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}
