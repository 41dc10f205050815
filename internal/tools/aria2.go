package tools

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/envctx"
	"github.com/oshokin/envforge/internal/logger"
)

const (
	// aria2ConfigFilename sits beside the binary and is picked up on start.
	aria2ConfigFilename = "aria2.conf"

	// aria2BinaryPermissions is the mode the placed binary receives.
	aria2BinaryPermissions = 0o755

	// aria2ConfigPermissions is the mode of the written configuration file.
	aria2ConfigPermissions = 0o644
)

// aria2Config keeps resumable transfers and a sane connection ceiling even
// when the accelerator is invoked outside this tool.
const aria2Config = `continue=true
max-connection-per-server=16
min-split-size=1M
disable-ipv6=true
`

// directFetcher is the fallback-only slice of the artifact fetcher. The
// bootstrap must not use the accelerated path: the accelerator is exactly
// what is being installed.
type directFetcher interface {
	Direct(ctx context.Context, uri, destPath string) error
}

// commandRunner is the slice of the process runner used for persistence.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, int)
}

// Aria2Bootstrap installs the aria2 download accelerator from a release
// archive and makes it resolvable for the rest of the session.
type Aria2Bootstrap struct {
	fs    afero.Fs
	log   *logger.Session
	fetch directFetcher
	run   commandRunner
	env   *envctx.Context

	// ArchiveURL is the release archive to download.
	ArchiveURL string
	// DestDir is the fixed directory receiving the binary and its config.
	DestDir string
	// TempDir hosts the downloaded archive and the extraction staging area.
	TempDir string
}

// NewAria2Bootstrap wires the bootstrap installer.
func NewAria2Bootstrap(
	fs afero.Fs,
	log *logger.Session,
	fetch directFetcher,
	run commandRunner,
	env *envctx.Context,
	archiveURL, destDir, tempDir string,
) *Aria2Bootstrap {
	return &Aria2Bootstrap{
		fs:         fs,
		log:        log,
		fetch:      fetch,
		run:        run,
		env:        env,
		ArchiveURL: archiveURL,
		DestDir:    destDir,
		TempDir:    tempDir,
	}
}

// Install downloads the release archive over the plain transfer path,
// extracts it, flattens the version-named wrapper folder, places the binary,
// writes the configuration file and appends the destination directory to the
// session PATH — applied to the process immediately and persisted for future
// shells.
func (b *Aria2Bootstrap) Install(ctx context.Context) error {
	archivePath := filepath.Join(b.TempDir, filepath.Base(b.ArchiveURL))

	if err := b.fetch.Direct(ctx, b.ArchiveURL, archivePath); err != nil {
		return fmt.Errorf("fetch accelerator archive: %w", err)
	}

	staging := filepath.Join(b.TempDir, "aria2-staging")
	if err := b.fs.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging directory: %w", err)
	}

	if err := extractZip(b.fs, archivePath, staging); err != nil {
		return fmt.Errorf("extract accelerator archive: %w", err)
	}

	if err := flattenSingleDir(b.fs, staging); err != nil {
		return fmt.Errorf("flatten archive layout: %w", err)
	}

	if err := b.placeBinary(ctx, staging); err != nil {
		return err
	}

	if err := b.writeConfig(); err != nil {
		return err
	}

	return b.registerPath(ctx)
}

// placeBinary applies the extracted binary into DestDir. goupdate renames a
// possibly-running previous binary aside instead of overwriting it in place.
func (b *Aria2Bootstrap) placeBinary(ctx context.Context, staging string) error {
	binaryName := acceleratorBinaryName()

	data, err := afero.ReadFile(b.fs, filepath.Join(staging, binaryName))
	if err != nil {
		return fmt.Errorf("read extracted binary: %w", err)
	}

	if err := b.fs.MkdirAll(b.DestDir, extractedDirPermissions); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	targetPath := filepath.Join(b.DestDir, binaryName)

	options := goupdate.Options{
		TargetPath: targetPath,
		TargetMode: aria2BinaryPermissions,
	}

	if err := goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("place accelerator binary: %w", err)
	}

	// goupdate keeps the replaced binary as <target>.old; drop it.
	oldPath := targetPath + ".old"
	if exists, _ := afero.Exists(b.fs, oldPath); exists {
		_ = b.fs.Remove(oldPath)
	}

	b.log.OKf(ctx, "accelerator binary placed at %s", targetPath)

	return nil
}

// writeConfig drops the configuration file beside the binary.
func (b *Aria2Bootstrap) writeConfig() error {
	configPath := filepath.Join(b.DestDir, aria2ConfigFilename)

	if err := afero.WriteFile(b.fs, configPath, []byte(aria2Config), aria2ConfigPermissions); err != nil {
		return fmt.Errorf("write accelerator config: %w", err)
	}

	return nil
}

// registerPath makes DestDir resolvable now and in future sessions.
func (b *Aria2Bootstrap) registerPath(ctx context.Context) error {
	if !b.env.Append(b.DestDir) {
		return nil
	}

	if err := b.env.Apply(); err != nil {
		return fmt.Errorf("apply session PATH: %w", err)
	}

	if err := b.env.PersistAppend(ctx, b.run, b.fs, b.DestDir); err != nil {
		return fmt.Errorf("persist PATH entry: %w", err)
	}

	b.log.Infof(ctx, "added %s to PATH", b.DestDir)

	return nil
}

// acceleratorBinaryName is the platform-specific binary file name.
func acceleratorBinaryName() string {
	if runtime.GOOS == "windows" {
		return "aria2c.exe"
	}

	return "aria2c"
}
