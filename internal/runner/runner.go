package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/oshokin/envforge/internal/logger"
)

// SpawnFailureExitCode is reported when the child process could not be
// started at all, as opposed to starting and exiting non-zero.
const SpawnFailureExitCode = -1

// Runner spawns external commands with combined output capture.
type Runner struct {
	// log receives the relayed child output and runner diagnostics.
	log *logger.Session
	// scratchDir hosts the private capture files; empty means the OS default.
	scratchDir string
}

// New creates a Runner that relays child output through the session log.
// scratchDir is where capture files are created, normally the session temp root.
func New(log *logger.Session, scratchDir string) *Runner {
	return &Runner{
		log:        log,
		scratchDir: scratchDir,
	}
}

// Run executes the command and returns its combined output and exit code.
// A non-zero exit code is not an error condition here; callers decide.
// A spawn failure (the process could not start) is logged at ERROR and
// reported as SpawnFailureExitCode.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (string, int) {
	return r.RunIn(ctx, "", name, args...)
}

// RunIn is Run with a working directory for the child process.
func (r *Runner) RunIn(ctx context.Context, dir, name string, args ...string) (string, int) {
	scratch, err := os.CreateTemp(r.scratchDir, "envforge-cmd-*.log")
	if err != nil {
		r.log.Errorf(ctx, "cannot create capture file for %s: %v", name, err)
		return "", SpawnFailureExitCode
	}

	scratchName := scratch.Name()

	// The capture file must disappear on every exit path.
	defer func() {
		_ = os.Remove(scratchName)
	}()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = scratch
	cmd.Stderr = scratch

	runErr := cmd.Run()

	if closeErr := scratch.Close(); closeErr != nil {
		r.log.Warnf(ctx, "closing capture file for %s: %v", name, closeErr)
	}

	output := r.relayOutput(ctx, name, scratchName)

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return output, exitErr.ExitCode()
		}

		// The process never started: command missing, permission denied,
		// or the context was already canceled.
		r.log.Errorf(ctx, "cannot start %s: %v", name, runErr)

		return output, SpawnFailureExitCode
	}

	return output, cmd.ProcessState.ExitCode()
}

// relayOutput reads the capture file and forwards its contents to the
// session log line by line, preserving the order the child produced.
func (r *Runner) relayOutput(ctx context.Context, name, scratchName string) string {
	contents, err := os.ReadFile(scratchName)
	if err != nil {
		r.log.Warnf(ctx, "cannot read captured output of %s: %v", name, err)
		return ""
	}

	output := string(contents)
	relay := r.log.WithIndent(1)

	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			relay.Log(ctx, logger.LevelInfo, line)
		}
	}

	return output
}
