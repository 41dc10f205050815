package manifest

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Entry describes one optional plugin repository.
type Entry struct {
	// Name identifies the plugin and is its default install directory.
	Name string `yaml:"name"`
	// Repo is the git URL the plugin is cloned from.
	Repo string `yaml:"repo"`
	// Subfolder optionally overrides the install directory name.
	Subfolder string `yaml:"subfolder,omitempty"`
	// Requirements is the plugin's dependency file, relative to its checkout.
	Requirements string `yaml:"requirements,omitempty"`
}

// document is the on-disk shape of the manifest file.
type document struct {
	Plugins []Entry `yaml:"plugins"`
}

var (
	// errEntryNameRequired is returned for a manifest entry without a name.
	errEntryNameRequired = errors.New("plugin entry is missing a name")
	// errEntryRepoRequired is returned for a manifest entry without a repository.
	errEntryRepoRequired = errors.New("plugin entry is missing a repository")
)

// Dir returns the directory the plugin installs into, defaulting to its name.
func (e Entry) Dir() string {
	if e.Subfolder != "" {
		return e.Subfolder
	}

	return e.Name
}

// Load reads and validates the manifest at path. Callers decide what a
// missing file means; Load reports it as an error wrapping os.ErrNotExist.
func Load(fs afero.Fs, path string) ([]Entry, error) {
	contents, err := afero.ReadFile(fs, filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal plugin manifest: %w", err)
	}

	for i, entry := range doc.Plugins {
		if entry.Name == "" {
			return nil, fmt.Errorf("entry %d: %w", i, errEntryNameRequired)
		}

		if entry.Repo == "" {
			return nil, fmt.Errorf("entry %s: %w", entry.Name, errEntryRepoRequired)
		}
	}

	return doc.Plugins, nil
}
