package tools

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	// extractedDirPermissions is the permission mask for extracted directories.
	extractedDirPermissions = 0o755

	// extractedFilePermissions is the fallback mask for entries without one.
	extractedFilePermissions = 0o644

	// createFileFlags truncates leftovers from an interrupted extraction.
	createFileFlags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
)

// errUnsafeArchivePath is returned for entries escaping the destination directory.
var errUnsafeArchivePath = errors.New("archive entry path escapes destination")

// extractZip unpacks the archive at archivePath into destDir.
func extractZip(fs afero.Fs, archivePath, destDir string) error {
	archive, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = archive.Close()
	}()

	info, err := archive.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	reader, err := zip.NewReader(archive, info.Size())
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	for _, entry := range reader.File {
		if err := extractEntry(fs, entry, destDir); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}

	return nil
}

// extractEntry writes one archive entry under destDir, refusing path escapes.
func extractEntry(fs afero.Fs, entry *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
		return errUnsafeArchivePath
	}

	if entry.FileInfo().IsDir() {
		return fs.MkdirAll(target, extractedDirPermissions)
	}

	if err := fs.MkdirAll(filepath.Dir(target), extractedDirPermissions); err != nil {
		return err
	}

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = extractedFilePermissions
	}

	source, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	file, err := fs.OpenFile(target, createFileFlags, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(file, source); err != nil {
		_ = file.Close()

		return err
	}

	return file.Close()
}

// flattenSingleDir lifts the contents of dir's sole subdirectory into dir.
// Release archives commonly wrap everything in a version-named folder; the
// session needs the binary at a fixed location. A directory with anything
// other than exactly one subdirectory is left untouched.
func flattenSingleDir(fs afero.Fs, dir string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	nested := filepath.Join(dir, entries[0].Name())

	children, err := afero.ReadDir(fs, nested)
	if err != nil {
		return fmt.Errorf("read %s: %w", nested, err)
	}

	for _, child := range children {
		oldPath := filepath.Join(nested, child.Name())
		newPath := filepath.Join(dir, child.Name())

		if err := fs.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("move %s: %w", oldPath, err)
		}
	}

	if err := fs.Remove(nested); err != nil {
		return fmt.Errorf("remove %s: %w", nested, err)
	}

	return nil
}
