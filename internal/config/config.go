package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// Config holds settings for one provisioning session.
type Config struct {
	// InstallPath is the root directory receiving the application stack.
	InstallPath string `yaml:"install_path"`
	// TempPath is the scratch root for downloads, backups and command output.
	TempPath string `yaml:"temp_path"`
	// SourceRepo is the git URL of the application source to provision.
	SourceRepo string `yaml:"source_repo"`
	// SourceBranch optionally pins the branch to clone.
	SourceBranch string `yaml:"source_branch,omitempty"`
	// PythonMinVersion is the minimum interpreter version, e.g. "3.10".
	PythonMinVersion string `yaml:"python_min_version"`
	// PreservedFolders are folder names carried over across destructive reinstalls.
	PreservedFolders []string `yaml:"preserved_folders,omitempty"`
	// AcceleratedWheels are wheel filenames expected in the artifact cache.
	AcceleratedWheels []string `yaml:"accelerated_wheels,omitempty"`
	// PluginManifest is the path to the plugin manifest YAML file.
	PluginManifest string `yaml:"plugin_manifest,omitempty"`
	// RemoveRetries is the attempt budget for removing locked directories.
	RemoveRetries int `yaml:"remove_retries,omitempty"`
	// RemoveDelay is the pause between removal attempts.
	RemoveDelay time.Duration `yaml:"remove_delay,omitempty"`
	// FetchRetryBudget is the total time allowed for transient download retries.
	FetchRetryBudget time.Duration `yaml:"fetch_retry_budget,omitempty"`
	// Aria2ArchiveURL is the release archive fetched when aria2 is absent.
	Aria2ArchiveURL string `yaml:"aria2_archive_url,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for session settings.
	DefaultConfigFilename = "envforge-settings.yaml"

	// DefaultPythonMinVersion is required when the settings omit one.
	DefaultPythonMinVersion = "3.10"

	// DefaultRemoveRetries is the default attempt budget for locked directory removal.
	DefaultRemoveRetries = 5

	// DefaultRemoveDelay is the default pause between removal attempts.
	DefaultRemoveDelay = 3 * time.Second

	// DefaultFetchRetryBudget is the default total time for transient download retries.
	DefaultFetchRetryBudget = 30 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultAria2ArchiveURL is the release archive used to bootstrap aria2
	// when the settings do not name their own build.
	DefaultAria2ArchiveURL = "https://github.com/aria2/aria2/releases/download/release-1.37.0/aria2-1.37.0-win-64bit-build1.zip"
)

// DefaultPreservedFolders are carried over across reinstalls when the
// settings do not name their own list.
//
//nolint:gochecknoglobals // Shared immutable default.
var DefaultPreservedFolders = []string{"models", "output", "user"}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInstallPathRequired is returned when the install path is missing.
	errInstallPathRequired = errors.New("install path must be provided")
	// errTempPathRequired is returned when the temp path is missing.
	errTempPathRequired = errors.New("temp path must be provided")
	// errSourceRepoRequired is returned when the source repository is missing.
	errSourceRepoRequired = errors.New("source repository must be provided")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields, resolves the
// install and temp roots to absolute paths and fills in defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.InstallPath == "" {
		return errInstallPathRequired
	}

	if cfg.TempPath == "" {
		return errTempPathRequired
	}

	if cfg.SourceRepo == "" {
		return errSourceRepoRequired
	}

	if _, err := url.ParseRequestURI(cfg.SourceRepo); err != nil {
		return fmt.Errorf("invalid source repository URL: %w", err)
	}

	installPath, err := filepath.Abs(cfg.InstallPath)
	if err != nil {
		return fmt.Errorf("resolve install path: %w", err)
	}

	cfg.InstallPath = installPath

	tempPath, err := filepath.Abs(cfg.TempPath)
	if err != nil {
		return fmt.Errorf("resolve temp path: %w", err)
	}

	cfg.TempPath = tempPath

	if cfg.PythonMinVersion == "" {
		cfg.PythonMinVersion = DefaultPythonMinVersion
	}

	if _, err := goversion.NewVersion(cfg.PythonMinVersion); err != nil {
		return fmt.Errorf("invalid minimum interpreter version: %w", err)
	}

	if len(cfg.PreservedFolders) == 0 {
		cfg.PreservedFolders = DefaultPreservedFolders
	}

	if cfg.RemoveRetries <= 0 {
		cfg.RemoveRetries = DefaultRemoveRetries
	}

	if cfg.RemoveDelay <= 0 {
		cfg.RemoveDelay = DefaultRemoveDelay
	}

	if cfg.FetchRetryBudget <= 0 {
		cfg.FetchRetryBudget = DefaultFetchRetryBudget
	}

	if cfg.Aria2ArchiveURL == "" {
		cfg.Aria2ArchiveURL = DefaultAria2ArchiveURL
	}

	return nil
}
