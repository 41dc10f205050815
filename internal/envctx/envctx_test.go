package envctx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// sep joins path entries with the platform list separator for test inputs.
func sep(entries ...string) string {
	return strings.Join(entries, string(os.PathListSeparator))
}

// TestNew_SkipsEmptyEntries verifies parsing drops blank segments.
func TestNew_SkipsEmptyEntries(t *testing.T) {
	t.Parallel()

	c := New(sep("/usr/bin", "", "/usr/local/bin"))
	require.Equal(t, []string{"/usr/bin", "/usr/local/bin"}, c.Entries())
}

// TestAppend_IsIdempotent verifies appending an existing entry is a no-op.
func TestAppend_IsIdempotent(t *testing.T) {
	t.Parallel()

	c := New(sep("/usr/bin"))

	require.True(t, c.Append("/opt/aria2"))
	require.False(t, c.Append("/opt/aria2"))
	require.Equal(t, []string{"/usr/bin", "/opt/aria2"}, c.Entries())
	require.Equal(t, sep("/usr/bin", "/opt/aria2"), c.String())
}

// TestContains_NormalizesPaths verifies trailing separators do not defeat matching.
func TestContains_NormalizesPaths(t *testing.T) {
	t.Parallel()

	c := New("/opt/aria2/")
	require.True(t, c.Contains("/opt/aria2"))
}

// TestLookup finds executables only in listed directories.
func TestLookup(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tools", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/tools/aria2c", []byte("bin"), 0o755))

	c := New(sep("/usr/bin", "/tools"))

	path, found := c.Lookup(fs, "aria2c")
	require.True(t, found)
	require.Equal(t, filepath.Join("/tools", "aria2c"), path)

	_, found = c.Lookup(fs, "git")
	require.False(t, found)
}

// TestLookup_IgnoresDirectories verifies a directory does not satisfy a command probe.
func TestLookup_IgnoresDirectories(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tools/aria2c", 0o755))

	c := New("/tools")

	_, found := c.Lookup(fs, "aria2c")
	require.False(t, found)
}
