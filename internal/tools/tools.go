package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/envctx"
	"github.com/oshokin/envforge/internal/logger"
)

// ErrToolUnavailable is returned when a tool is still absent after its
// installation procedure ran. The orchestrator treats it as fatal: nothing
// downstream can proceed without the tool.
var ErrToolUnavailable = errors.New("required tool is unavailable")

// errNotInstallable is returned for an absent tool without an installation procedure.
var errNotInstallable = errors.New("tool is absent and has no installation procedure")

// Requirement describes one external tool the session depends on.
// Exactly one of Command and Path selects the probe.
type Requirement struct {
	// Name labels the tool in logs and errors.
	Name string
	// Command probes the session PATH when set.
	Command string
	// Path probes a fixed filesystem location when set.
	Path string
	// Install provisions the tool when the probe fails.
	Install func(ctx context.Context) error
}

// Provisioner applies the probe/install/re-probe policy against one
// environment context.
type Provisioner struct {
	fs  afero.Fs
	log *logger.Session
	env *envctx.Context
}

// NewProvisioner creates a tool provisioner over the given environment.
func NewProvisioner(fs afero.Fs, log *logger.Session, env *envctx.Context) *Provisioner {
	return &Provisioner{
		fs:  fs,
		log: log,
		env: env,
	}
}

// Ensure leaves the tool provably present or returns an error. It never
// returns nil while the probe still fails.
func (p *Provisioner) Ensure(ctx context.Context, req Requirement) error {
	if location, present := p.probe(req); present {
		p.log.OKf(ctx, "%s found at %s", req.Name, location)
		return nil
	}

	p.log.Warnf(ctx, "%s not found, installing", req.Name)

	if req.Install == nil {
		return fmt.Errorf("%s: %w", req.Name, errNotInstallable)
	}

	if err := req.Install(ctx); err != nil {
		return fmt.Errorf("install %s: %w", req.Name, err)
	}

	location, present := p.probe(req)
	if !present {
		p.log.Errorf(ctx, "%s is still missing after installation", req.Name)
		return fmt.Errorf("%s: %w", req.Name, ErrToolUnavailable)
	}

	p.log.OKf(ctx, "%s installed at %s", req.Name, location)

	return nil
}

// probe checks for the tool per the requirement's configured probe kind.
func (p *Provisioner) probe(req Requirement) (string, bool) {
	if req.Command != "" {
		return p.env.Lookup(p.fs, req.Command)
	}

	info, err := p.fs.Stat(req.Path)
	if err != nil || info.IsDir() {
		return "", false
	}

	return req.Path, true
}
