package envctx

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

// Context is an explicit, mutable model of the PATH search list.
// It is monotonic within a session: entries are only ever appended.
type Context struct {
	// entries are the search directories in lookup order.
	entries []string
}

// New builds a Context from a PATH-style value using the platform list separator.
func New(pathValue string) *Context {
	var entries []string

	for _, entry := range strings.Split(pathValue, string(os.PathListSeparator)) {
		if entry = strings.TrimSpace(entry); entry != "" {
			entries = append(entries, entry)
		}
	}

	return &Context{entries: entries}
}

// FromOS builds a Context from the current process environment.
func FromOS() *Context {
	return New(os.Getenv("PATH"))
}

// Entries returns a copy of the search directories in lookup order.
func (c *Context) Entries() []string {
	out := make([]string, len(c.entries))
	copy(out, c.entries)

	return out
}

// Contains reports whether dir is already on the search list.
func (c *Context) Contains(dir string) bool {
	for _, entry := range c.entries {
		if filepath.Clean(entry) == filepath.Clean(dir) {
			return true
		}
	}

	return false
}

// Append adds dir to the end of the search list.
// It reports whether the list changed; a present dir is left alone.
func (c *Context) Append(dir string) bool {
	if c.Contains(dir) {
		return false
	}

	c.entries = append(c.entries, dir)

	return true
}

// String renders the Context back to a PATH-style value.
func (c *Context) String() string {
	return strings.Join(c.entries, string(os.PathListSeparator))
}

// Apply sets the process PATH to the Context value so commands spawned later
// in the same session resolve newly installed binaries without a restart.
func (c *Context) Apply() error {
	return os.Setenv("PATH", c.String())
}

// Lookup searches the Context's directories for an executable with the given
// name, honoring the platform executable extension. It returns the resolved
// path and whether it was found.
func (c *Context) Lookup(fs afero.Fs, name string) (string, bool) {
	for _, dir := range c.entries {
		for _, candidate := range executableCandidates(name) {
			full := filepath.Join(dir, candidate)

			info, err := fs.Stat(full)
			if err != nil || info.IsDir() {
				continue
			}

			return full, true
		}
	}

	return "", false
}

// executableCandidates lists the file names a command may resolve to.
func executableCandidates(name string) []string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return []string{name + ".exe", name}
	}

	return []string{name}
}
