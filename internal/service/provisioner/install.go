package provisioner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/manifest"
)

const (
	// baseRequirementsFilename is the application's dependency file.
	baseRequirementsFilename = "requirements.txt"

	// defaultPluginRequirements is assumed when a manifest entry names none.
	defaultPluginRequirements = "requirements.txt"
)

var (
	// errBaseInstallFailed is returned when the base dependency install fails.
	errBaseInstallFailed = errors.New("base dependency install exited with a non-zero status")
	// errComponentInstallFailed is returned when installing a present
	// accelerated component fails.
	errComponentInstallFailed = errors.New("component install exited with a non-zero status")
)

// installResult is the outcome of one component install.
type installResult struct {
	// OK is true when the install command succeeded.
	OK bool
	// Version is the installed version when the post-install query succeeds,
	// empty otherwise.
	Version string
}

// installBaseDependencies installs the application's own dependency file into
// the isolated runtime. A checkout without one is a supported layout.
func (p *pipeline) installBaseDependencies(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	requirementsPath := filepath.Join(p.paths.AppDir, baseRequirementsFilename)

	exists, err := afero.Exists(p.fs, requirementsPath)
	if err != nil {
		return fmt.Errorf("check %s: %w", baseRequirementsFilename, err)
	}

	if !exists {
		lg.Warnf(ctx, "no %s in checkout, nothing to install", baseRequirementsFilename)
		return nil
	}

	_, code := p.run.RunIn(ctx, p.paths.AppDir,
		p.python, "-m", "pip", "install", "-r", baseRequirementsFilename)
	if code != 0 {
		return fmt.Errorf("%w (status %d)", errBaseInstallFailed, code)
	}

	lg.OKf(ctx, "base dependencies installed")

	return nil
}

// installAcceleratedComponents installs the configured wheels from the
// pre-populated artifact cache. A missing artifact is logged and skipped; a
// failing install of a present artifact aborts the session.
func (p *pipeline) installAcceleratedComponents(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	if len(p.cfg.AcceleratedWheels) == 0 {
		lg.Infof(ctx, "no accelerated components configured")
		return nil
	}

	for _, wheel := range p.cfg.AcceleratedWheels {
		wheelPath := filepath.Join(p.paths.CacheDir, wheel)

		exists, err := afero.Exists(p.fs, wheelPath)
		if err != nil {
			return fmt.Errorf("check %s: %w", wheel, err)
		}

		if !exists {
			lg.Errorf(ctx, "artifact %s is missing from the cache, skipping", wheel)
			continue
		}

		result := p.installComponent(ctx, wheelPath)
		if !result.OK {
			return fmt.Errorf("%s: %w", wheel, errComponentInstallFailed)
		}

		if result.Version != "" {
			lg.OKf(ctx, "installed %s (version %s)", wheel, result.Version)
		} else {
			lg.OKf(ctx, "installed %s", wheel)
		}
	}

	return nil
}

// installComponent installs one wheel and queries the resulting version.
// A failing version query is survived with an empty Version.
func (p *pipeline) installComponent(ctx context.Context, wheelPath string) installResult {
	if _, code := p.run.Run(ctx, p.python, "-m", "pip", "install", wheelPath); code != 0 {
		return installResult{}
	}

	result := installResult{OK: true}

	distribution := distributionName(filepath.Base(wheelPath))
	if distribution == "" {
		return result
	}

	output, code := p.run.Run(ctx, p.python, "-m", "pip", "show", distribution)
	if code != 0 {
		p.log.WithIndent(1).Errorf(ctx, "version query for %s exited with status %d", distribution, code)
		return result
	}

	result.Version = reportedVersion(output)

	return result
}

// distributionName extracts the distribution from a wheel filename.
func distributionName(wheelFile string) string {
	name, _, found := strings.Cut(wheelFile, "-")
	if !found {
		return ""
	}

	return name
}

// reportedVersion extracts the Version field from pip show output.
func reportedVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if value, found := strings.CutPrefix(strings.TrimSpace(line), "Version:"); found {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

// installPlugins clones and installs the plugin manifest entries. The whole
// stage is skipped when no manifest exists; a malformed manifest aborts the
// session; every per-entry failure is logged and survived.
func (p *pipeline) installPlugins(ctx context.Context) error {
	lg := p.log.WithIndent(1)

	entries, err := manifest.Load(p.fs, p.paths.ManifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			lg.Infof(ctx, "no plugin manifest at %s, skipping", p.paths.ManifestPath)
			return nil
		}

		return err
	}

	if err = p.fs.MkdirAll(p.paths.PluginsDir, sessionDirPermissions); err != nil {
		return fmt.Errorf("create plugins directory: %w", err)
	}

	for _, entry := range entries {
		p.installPlugin(ctx, entry)
	}

	return nil
}

// installPlugin clones one plugin and installs its dependency file. Failures
// are logged, never propagated.
func (p *pipeline) installPlugin(ctx context.Context, entry manifest.Entry) {
	lg := p.log.WithIndent(1)

	targetDir := filepath.Join(p.paths.PluginsDir, entry.Dir())

	exists, err := afero.DirExists(p.fs, targetDir)
	if err != nil {
		lg.Errorf(ctx, "checking plugin %s: %v", entry.Name, err)
		return
	}

	if exists {
		lg.Infof(ctx, "plugin %s already present, skipping", entry.Name)
		return
	}

	if _, code := p.run.Run(ctx, "git", "clone", entry.Repo, targetDir); code != 0 {
		lg.Errorf(ctx, "cloning plugin %s exited with status %d", entry.Name, code)
		return
	}

	requirements := entry.Requirements
	if requirements == "" {
		requirements = defaultPluginRequirements
	}

	requirementsPath := filepath.Join(targetDir, requirements)

	present, err := afero.Exists(p.fs, requirementsPath)
	if err != nil || !present {
		lg.OKf(ctx, "plugin %s installed", entry.Name)
		return
	}

	if _, code := p.run.RunIn(ctx, targetDir,
		p.python, "-m", "pip", "install", "-r", requirements); code != 0 {
		lg.Errorf(ctx, "installing dependencies of plugin %s exited with status %d", entry.Name, code)
		return
	}

	lg.OKf(ctx, "plugin %s installed", entry.Name)
}
