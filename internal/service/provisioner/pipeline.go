package provisioner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/config"
	"github.com/oshokin/envforge/internal/envctx"
	"github.com/oshokin/envforge/internal/logger"
	"github.com/oshokin/envforge/internal/tools"
)

// fetchRetryUnit is the pause between transient download retry attempts.
const fetchRetryUnit = 2 * time.Second

// commandRunner is the slice of the process runner the stages use.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, int)
	RunIn(ctx context.Context, dir, name string, args ...string) (string, int)
}

// artifactFetcher downloads remote artifacts idempotently. Direct is the
// fallback-only transfer the accelerator bootstrap relies on.
type artifactFetcher interface {
	Fetch(ctx context.Context, uri, destPath string) error
	Direct(ctx context.Context, uri, destPath string) error
}

// toolEnsurer applies the probe/install/re-probe policy.
type toolEnsurer interface {
	Ensure(ctx context.Context, req tools.Requirement) error
}

// pipeline holds the collaborators and state of one provisioning session.
// It is intentionally unexported — call Run(ctx, Options) from callers.
type pipeline struct {
	cfg   *config.Config
	paths *Session
	fs    afero.Fs
	log   *logger.Session
	run   commandRunner
	fetch artifactFetcher
	env   *envctx.Context
	tools toolEnsurer

	// confirm asks the operator to approve a destructive action.
	confirm func(prompt string) bool

	// python is the isolated runtime's interpreter, set by createRuntime.
	python string
}

// stage pairs a banner with its implementation.
type stage struct {
	name string
	fn   func(ctx context.Context) error
}

// run executes the stage sequence in order. The first fatal error stops the
// session; nothing branches back.
func (p *pipeline) runStages(ctx context.Context) error {
	stages := []stage{
		{"Bootstrapping required tools", p.bootstrapTools},
		{"Acquiring application source", p.acquireSource},
		{"Creating isolated runtime", p.createRuntime},
		{"Migrating preserved folders", p.migrateFolders},
		{"Installing base dependencies", p.installBaseDependencies},
		{"Installing accelerated components", p.installAcceleratedComponents},
		{"Installing plugins", p.installPlugins},
	}

	for i, s := range stages {
		p.log.Stepf(ctx, "[%d/%d] %s", i+1, len(stages), s.name)

		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(s.name), err)
		}
	}

	p.log.OKf(ctx, "all stages completed")

	return nil
}

// confirmOnStdin asks the operator for a yes/no answer on standard input.
// Anything but an explicit yes declines.
func confirmOnStdin(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes"
}
