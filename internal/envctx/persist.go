package envctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

// commandRunner is the slice of the process runner needed for persistence.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, int)
}

// profilePermissions is the permission mask for a freshly created shell profile.
const profilePermissions = 0o644

// errPersistFailed is returned when the platform persistence command fails.
var errPersistFailed = errors.New("persisting PATH entry failed")

// PersistAppend makes dir part of the user's persistent PATH so future
// sessions resolve it without rerunning the bootstrap. It does nothing when
// the entry is already durable. The in-process PATH is not touched here;
// callers Append and Apply the Context for that.
func (c *Context) PersistAppend(ctx context.Context, run commandRunner, fs afero.Fs, dir string) error {
	if runtime.GOOS == "windows" {
		return c.persistWindows(ctx, run, dir)
	}

	return c.persistProfile(fs, dir)
}

// persistWindows stores the updated user PATH through setx.
func (c *Context) persistWindows(ctx context.Context, run commandRunner, dir string) error {
	value := c.String()
	if !c.Contains(dir) {
		value = value + string(os.PathListSeparator) + dir
	}

	if _, exitCode := run.Run(ctx, "setx", "PATH", value); exitCode != 0 {
		return fmt.Errorf("setx exited with code %d: %w", exitCode, errPersistFailed)
	}

	return nil
}

// persistProfile appends an export line to the user's shell profile,
// only when the profile does not already mention the directory.
func (c *Context) persistProfile(fs afero.Fs, dir string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	profile := filepath.Join(home, ".profile")

	contents, err := afero.ReadFile(fs, profile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read shell profile: %w", err)
	}

	if strings.Contains(string(contents), dir) {
		return nil
	}

	line := fmt.Sprintf("\nexport PATH=\"$PATH:%s\"\n", dir)

	file, err := fs.OpenFile(profile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, profilePermissions)
	if err != nil {
		return fmt.Errorf("open shell profile: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("append to shell profile: %w", err)
	}

	return nil
}
