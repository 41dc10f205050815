package provisioner

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/oshokin/envforge/internal/config"
)

const (
	// logsDirName is the directory under the install root holding session logs.
	logsDirName = "logs"

	// logFilename is the append-only session log file.
	logFilename = "install_log.txt"

	// wheelsDirName is the artifact cache under the temp root.
	wheelsDirName = "wheels"

	// backupDirName holds preserved folders across a destructive reset.
	backupDirName = "preserved"

	// pluginsDirName is the plugin checkout directory inside the application.
	pluginsDirName = "plugins"

	// venvDirName is the isolated runtime directory inside the application.
	venvDirName = "venv"

	// toolsDirName hosts session-installed tools under the install root.
	toolsDirName = "tools"

	// defaultManifestFilename is looked up under the install root when the
	// settings do not name a manifest.
	defaultManifestFilename = "plugins.yaml"

	// sessionDirPermissions is the mode for directories the session creates.
	sessionDirPermissions = 0o755
)

// Session holds every path the pipeline touches. All values are derived
// once from the validated configuration and are read-only afterwards.
type Session struct {
	// InstallPath is the absolute install root.
	InstallPath string
	// TempPath is the absolute scratch root.
	TempPath string
	// LogsDir is the session log directory.
	LogsDir string
	// AppDir is the application checkout inside the install root.
	AppDir string
	// VenvDir is the isolated runtime inside the application.
	VenvDir string
	// CacheDir is the pre-populated artifact cache.
	CacheDir string
	// BackupDir receives preserved folders during a destructive reset.
	BackupDir string
	// PluginsDir receives plugin checkouts.
	PluginsDir string
	// ToolsDir hosts tools installed by the session itself.
	ToolsDir string
	// ManifestPath is the plugin manifest location.
	ManifestPath string
}

// newSession derives the session layout from validated settings.
// The configuration's paths are already absolute at this point.
func newSession(cfg *config.Config) *Session {
	appDir := filepath.Join(cfg.InstallPath, appNameFromRepo(cfg.SourceRepo))

	manifestPath := cfg.PluginManifest
	if manifestPath == "" {
		manifestPath = filepath.Join(cfg.InstallPath, defaultManifestFilename)
	}

	return &Session{
		InstallPath:  cfg.InstallPath,
		TempPath:     cfg.TempPath,
		LogsDir:      filepath.Join(cfg.InstallPath, logsDirName),
		AppDir:       appDir,
		VenvDir:      filepath.Join(appDir, venvDirName),
		CacheDir:     filepath.Join(cfg.TempPath, wheelsDirName),
		BackupDir:    filepath.Join(cfg.TempPath, backupDirName),
		PluginsDir:   filepath.Join(appDir, pluginsDirName),
		ToolsDir:     filepath.Join(cfg.InstallPath, toolsDirName),
		ManifestPath: manifestPath,
	}
}

// appNameFromRepo derives the checkout directory name from the repository URL.
func appNameFromRepo(repo string) string {
	name := repo

	if parsed, err := url.Parse(repo); err == nil && parsed.Path != "" {
		name = parsed.Path
	}

	return strings.TrimSuffix(path.Base(name), ".git")
}
