package fsutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/logger"
)

// suspectProcessNames are executables known to hold handles inside a
// provisioned tree: the interpreter itself, package installs in flight,
// and version-control operations.
//
//nolint:gochecknoglobals // Shared immutable lookup table.
var suspectProcessNames = map[string]struct{}{
	"python":     {},
	"python3":    {},
	"python.exe": {},
	"pip":        {},
	"pip.exe":    {},
	"git":        {},
	"git.exe":    {},
}

// RemoveAllWithRetry removes path recursively. A missing path is a success.
// Each failed attempt is logged at WARN and followed by a pause of delay;
// after maxAttempts failures the last error is returned, annotated with a
// best-effort list of processes that may be holding the tree.
func RemoveAllWithRetry(
	ctx context.Context,
	fs afero.Fs,
	log *logger.Session,
	path string,
	maxAttempts int,
	delay time.Duration,
) error {
	exists, err := afero.DirExists(fs, path)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}

	if !exists {
		return nil
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fs.RemoveAll(path)
		if lastErr == nil {
			log.OKf(ctx, "removed %s", path)
			return nil
		}

		log.Warnf(ctx, "removing %s failed (attempt %d/%d): %v", path, attempt, maxAttempts, lastErr)

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("remove %s: %w", path, ctx.Err())
		case <-time.After(delay):
		}
	}

	if holders := suspectHolders(); holders != "" {
		log.Errorf(ctx, "%s could not be removed; possibly held by: %s", path, holders)
	} else {
		log.Errorf(ctx, "%s could not be removed", path)
	}

	return fmt.Errorf("remove %s after %d attempts: %w", path, maxAttempts, lastErr)
}

// suspectHolders lists running processes whose executables commonly hold
// handles inside the install tree. Enumeration failures yield an empty list;
// this is diagnostic output only.
func suspectHolders() string {
	processes, err := ps.Processes()
	if err != nil {
		return ""
	}

	var names []string

	for _, process := range processes {
		name := process.Executable()
		if _, suspect := suspectProcessNames[strings.ToLower(name)]; suspect {
			names = append(names, fmt.Sprintf("%s (pid %d)", name, process.Pid()))
		}
	}

	return strings.Join(names, ", ")
}
