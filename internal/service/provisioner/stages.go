package provisioner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/fsutil"
	"github.com/oshokin/envforge/internal/tools"
)

var (
	// errUserDeclined is returned when the operator refuses a destructive reset.
	errUserDeclined = errors.New("operator declined the destructive reset")
	// errCloneFailed is returned when cloning the application source fails.
	errCloneFailed = errors.New("source clone exited with a non-zero status")
	// errInterpreterMissing is returned when no usable interpreter is found.
	errInterpreterMissing = errors.New("no python interpreter on PATH")
	// errInterpreterTooOld is returned when the interpreter predates the minimum.
	errInterpreterTooOld = errors.New("python interpreter is older than the required minimum")
	// errRuntimeCreateFailed is returned when creating the virtual environment fails.
	errRuntimeCreateFailed = errors.New("virtual environment creation exited with a non-zero status")
)

// bootstrapTools leaves git and the aria2 download accelerator provably
// present. Either tool still missing after installation aborts the session.
func (p *pipeline) bootstrapTools(ctx context.Context) error {
	gitRequirement := tools.Requirement{
		Name:    "git",
		Command: "git",
		Install: p.installPackage("git"),
	}

	if err := p.tools.Ensure(ctx, gitRequirement); err != nil {
		return err
	}

	bootstrap := tools.NewAria2Bootstrap(
		p.fs, p.log, p.fetch, p.run, p.env,
		p.cfg.Aria2ArchiveURL, p.paths.ToolsDir, p.paths.TempPath)

	aria2Requirement := tools.Requirement{
		Name:    "aria2",
		Command: "aria2c",
		Install: bootstrap.Install,
	}

	return p.tools.Ensure(ctx, aria2Requirement)
}

// installPackage builds an install procedure invoking the platform package
// manager with structured arguments.
func (p *pipeline) installPackage(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		command, args := packageManagerArgv(name)

		if _, code := p.run.Run(ctx, command, args...); code != 0 {
			return fmt.Errorf("%s install of %s exited with status %d", command, name, code)
		}

		return nil
	}
}

// packageManagerArgv maps a package name onto the host's package manager.
func packageManagerArgv(name string) (string, []string) {
	switch runtime.GOOS {
	case "windows":
		id := name
		if winget, ok := wingetIDs[name]; ok {
			id = winget
		}

		return "winget", []string{
			"install", "--exact", "--id", id,
			"--accept-package-agreements", "--accept-source-agreements",
		}
	case "darwin":
		return "brew", []string{"install", name}
	default:
		return "apt-get", []string{"install", "-y", name}
	}
}

// wingetIDs maps plain package names onto winget identifiers.
//
//nolint:gochecknoglobals // Shared immutable lookup table.
var wingetIDs = map[string]string{
	"git":     "Git.Git",
	"python3": "Python.Python.3.12",
}

// acquireSource replaces the application checkout with a fresh clone. An
// existing checkout requires operator approval before it is removed; the
// preserved folders are parked under the temp root first and restored by
// migrateFolders after the clone.
func (p *pipeline) acquireSource(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	exists, err := afero.DirExists(p.fs, p.paths.AppDir)
	if err != nil {
		return fmt.Errorf("check application directory: %w", err)
	}

	if exists {
		prompt := fmt.Sprintf("Existing installation at %s will be removed. Continue?", p.paths.AppDir)
		if !p.confirm(prompt) {
			lg.Errorf(ctx, "reset of %s declined", p.paths.AppDir)
			return errUserDeclined
		}

		if err = p.backupPreserved(ctx); err != nil {
			return err
		}

		removeErr := fsutil.RemoveAllWithRetry(
			ctx, p.fs, lg, p.paths.AppDir, p.cfg.RemoveRetries, p.cfg.RemoveDelay)
		if removeErr != nil {
			return removeErr
		}
	}

	if err = p.fs.MkdirAll(p.paths.InstallPath, sessionDirPermissions); err != nil {
		return fmt.Errorf("create install root: %w", err)
	}

	args := []string{"clone", p.cfg.SourceRepo}
	if p.cfg.SourceBranch != "" {
		args = append(args, "--branch", p.cfg.SourceBranch)
	}

	args = append(args, p.paths.AppDir)

	if _, code := p.run.Run(ctx, "git", args...); code != 0 {
		return fmt.Errorf("%w (status %d)", errCloneFailed, code)
	}

	lg.OKf(ctx, "source cloned into %s", p.paths.AppDir)

	return nil
}

// backupPreserved parks the preserved folders under the temp root so the
// checkout can be removed without losing them. Absent folders are skipped.
func (p *pipeline) backupPreserved(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	for _, name := range p.cfg.PreservedFolders {
		source := filepath.Join(p.paths.AppDir, name)

		exists, err := afero.DirExists(p.fs, source)
		if err != nil {
			return fmt.Errorf("check preserved folder %s: %w", name, err)
		}

		if !exists {
			lg.Infof(ctx, "no %s folder to preserve", name)
			continue
		}

		target := filepath.Join(p.paths.BackupDir, name)

		if err = p.fs.MkdirAll(p.paths.BackupDir, sessionDirPermissions); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}

		// A leftover backup from an aborted earlier run loses to the
		// live folder.
		if err = p.fs.RemoveAll(target); err != nil {
			return fmt.Errorf("clear stale backup of %s: %w", name, err)
		}

		if err = p.fs.Rename(source, target); err != nil {
			return fmt.Errorf("park preserved folder %s: %w", name, err)
		}

		lg.Infof(ctx, "parked %s for migration", name)
	}

	return nil
}

// createRuntime builds the isolated interpreter runtime inside the checkout.
// An existing runtime is reused as is.
func (p *pipeline) createRuntime(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	exists, err := afero.DirExists(p.fs, p.paths.VenvDir)
	if err != nil {
		return fmt.Errorf("check runtime directory: %w", err)
	}

	if exists {
		lg.OKf(ctx, "runtime already present at %s", p.paths.VenvDir)
		p.python = runtimeInterpreter(p.paths.VenvDir)

		return nil
	}

	interpreter, err := p.hostInterpreter(ctx)
	if err != nil {
		return err
	}

	if err = p.checkInterpreterVersion(ctx, interpreter); err != nil {
		return err
	}

	if _, code := p.run.Run(ctx, interpreter, "-m", "venv", p.paths.VenvDir); code != 0 {
		return fmt.Errorf("%w (status %d)", errRuntimeCreateFailed, code)
	}

	p.python = runtimeInterpreter(p.paths.VenvDir)
	lg.OKf(ctx, "runtime created at %s", p.paths.VenvDir)

	return nil
}

// hostInterpreter locates a system interpreter, installing one through the
// platform package manager when none resolves.
func (p *pipeline) hostInterpreter(ctx context.Context) (string, error) {
	for _, candidate := range []string{"python3", "python"} {
		if _, found := p.env.Lookup(p.fs, candidate); found {
			return candidate, nil
		}
	}

	requirement := tools.Requirement{
		Name:    "python3",
		Command: "python3",
		Install: p.installPackage("python3"),
	}

	if err := p.tools.Ensure(ctx, requirement); err != nil {
		return "", err
	}

	if _, found := p.env.Lookup(p.fs, "python3"); found {
		return "python3", nil
	}

	return "", errInterpreterMissing
}

// checkInterpreterVersion rejects interpreters older than the configured
// minimum. An unparseable version report is treated the same way.
func (p *pipeline) checkInterpreterVersion(ctx context.Context, interpreter string) error {
	output, code := p.run.Run(ctx, interpreter, "--version")
	if code != 0 {
		return fmt.Errorf("%w: version query exited with status %d", errInterpreterMissing, code)
	}

	reported, err := parseInterpreterVersion(output)
	if err != nil {
		return fmt.Errorf("%w: %v", errInterpreterTooOld, err)
	}

	minimum, err := goversion.NewVersion(p.cfg.PythonMinVersion)
	if err != nil {
		return fmt.Errorf("parse minimum interpreter version: %w", err)
	}

	if reported.LessThan(minimum) {
		return fmt.Errorf("%w: found %s, need at least %s",
			errInterpreterTooOld, reported, minimum)
	}

	p.log.WithIndent(1).OKf(ctx, "interpreter version %s satisfies minimum %s", reported, minimum)

	return nil
}

// parseInterpreterVersion extracts the version from "Python X.Y.Z" output.
func parseInterpreterVersion(output string) (*goversion.Version, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) < 2 {
		return nil, fmt.Errorf("unexpected version output %q", strings.TrimSpace(output))
	}

	parsed, err := goversion.NewVersion(fields[len(fields)-1])
	if err != nil {
		return nil, fmt.Errorf("parse reported version: %w", err)
	}

	return parsed, nil
}

// runtimeInterpreter is the interpreter path inside the isolated runtime.
func runtimeInterpreter(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}

	return filepath.Join(venvDir, "bin", "python")
}

// migrateFolders restores the preserved folders parked by acquireSource into
// the fresh checkout. Every skip condition is per folder; the stage itself
// never aborts the session.
func (p *pipeline) migrateFolders(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	exists, err := afero.DirExists(p.fs, p.paths.BackupDir)
	if err != nil {
		return fmt.Errorf("check backup directory: %w", err)
	}

	if !exists {
		lg.Infof(ctx, "no parked folders to migrate")
		return nil
	}

	for _, name := range p.cfg.PreservedFolders {
		source := filepath.Join(p.paths.BackupDir, name)

		parked, checkErr := afero.DirExists(p.fs, source)
		if checkErr != nil || !parked {
			lg.Infof(ctx, "no parked %s folder", name)
			continue
		}

		target := filepath.Join(p.paths.AppDir, name)

		if populated, _ := directoryPopulated(p.fs, target); populated {
			lg.Warnf(ctx, "keeping existing %s, parked copy left at %s", name, source)
			continue
		}

		if removeErr := p.fs.RemoveAll(target); removeErr != nil {
			lg.Errorf(ctx, "clearing %s before restore: %v", target, removeErr)
			continue
		}

		if renameErr := p.fs.Rename(source, target); renameErr != nil {
			lg.Errorf(ctx, "restoring %s: %v", name, renameErr)
			continue
		}

		lg.OKf(ctx, "restored %s", name)
	}

	return nil
}

// directoryPopulated reports whether path is a directory with at least one entry.
func directoryPopulated(fs afero.Fs, path string) (bool, error) {
	exists, err := afero.DirExists(fs, path)
	if err != nil || !exists {
		return false, err
	}

	entries, err := afero.ReadDir(fs, path)
	if err != nil {
		return false, err
	}

	return len(entries) > 0, nil
}
