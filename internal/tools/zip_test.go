package tools

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// buildZip produces an archive with the given name→content entries.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)
	for name, content := range entries {
		entry, err := writer.Create(name)
		require.NoError(t, err)

		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

// TestExtractZip unpacks nested entries preserving the directory layout.
func TestExtractZip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	archive := buildZip(t, map[string]string{
		"aria2-1.37.0/aria2c":    "binary",
		"aria2-1.37.0/README":    "docs",
		"aria2-1.37.0/doc/notes": "notes",
	})
	require.NoError(t, afero.WriteFile(fs, "/tmp/aria2.zip", archive, 0o644))

	require.NoError(t, extractZip(fs, "/tmp/aria2.zip", "/staging"))

	contents, err := afero.ReadFile(fs, "/staging/aria2-1.37.0/aria2c")
	require.NoError(t, err)
	require.Equal(t, "binary", string(contents))

	contents, err = afero.ReadFile(fs, "/staging/aria2-1.37.0/doc/notes")
	require.NoError(t, err)
	require.Equal(t, "notes", string(contents))
}

// TestExtractZip_RejectsPathEscape refuses entries climbing out of the destination.
func TestExtractZip_RejectsPathEscape(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	archive := buildZip(t, map[string]string{"../evil": "payload"})
	require.NoError(t, afero.WriteFile(fs, "/tmp/bad.zip", archive, 0o644))

	err := extractZip(fs, "/tmp/bad.zip", "/staging")
	require.ErrorIs(t, err, errUnsafeArchivePath)
}

// TestFlattenSingleDir lifts a version-named wrapper folder.
func TestFlattenSingleDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/staging/aria2-1.37.0/aria2c", []byte("binary"), 0o755))
	require.NoError(t, afero.WriteFile(fs, "/staging/aria2-1.37.0/README", []byte("docs"), 0o644))

	require.NoError(t, flattenSingleDir(fs, "/staging"))

	contents, err := afero.ReadFile(fs, "/staging/aria2c")
	require.NoError(t, err)
	require.Equal(t, "binary", string(contents))

	exists, err := afero.DirExists(fs, "/staging/aria2-1.37.0")
	require.NoError(t, err)
	require.False(t, exists)
}

// TestFlattenSingleDir_LeavesFlatLayoutAlone verifies archives without a
// wrapper folder are untouched.
func TestFlattenSingleDir_LeavesFlatLayoutAlone(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/staging/aria2c", []byte("binary"), 0o755))
	require.NoError(t, afero.WriteFile(fs, "/staging/README", []byte("docs"), 0o644))

	require.NoError(t, flattenSingleDir(fs, "/staging"))

	contents, err := afero.ReadFile(fs, "/staging/aria2c")
	require.NoError(t, err)
	require.Equal(t, "binary", string(contents))
}
