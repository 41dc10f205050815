package provisioner

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/config"
	"github.com/oshokin/envforge/internal/envctx"
	"github.com/oshokin/envforge/internal/fetcher"
	"github.com/oshokin/envforge/internal/logger"
	"github.com/oshokin/envforge/internal/runner"
	"github.com/oshokin/envforge/internal/tools"
)

// Options are inputs accepted by the provisioner entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// InstallPath overrides the settings' install root when set.
	InstallPath string
	// TempPath overrides the settings' scratch root when set.
	TempPath string
	// AssumeYes pre-approves destructive confirmations for unattended runs.
	AssumeYes bool
}

// Run executes one provisioning session and is the public entry point for
// the CLI. It returns an error only for fatal-abort conditions; per-item
// failures are logged and survived.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "envforge")

	p, err := newPipeline(ctx, opts)
	if err != nil {
		logger.ErrorKV(ctx, "Session setup failed", "error", err)
		return err
	}

	defer p.close(ctx)

	if err = p.runStages(ctx); err != nil {
		logger.ErrorKV(ctx, "Provisioning failed", "error", err)
		return err
	}

	logger.Info(ctx, "Provisioning completed")

	return nil
}

// loadSettings reads the settings file when present and applies overrides
// from the command line before validation.
func loadSettings(opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigFilename
	}

	var cfg config.Config

	if _, err := os.Stat(path); err == nil {
		loaded, loadErr := config.Load(path)
		if loadErr != nil {
			return nil, loadErr
		}

		cfg = *loaded
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if opts.InstallPath != "" {
		cfg.InstallPath = opts.InstallPath
	}

	if opts.TempPath != "" {
		cfg.TempPath = opts.TempPath
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// newPipeline wires a pipeline against the real host: OS filesystem, the
// process environment, and a session log under the install root. A log
// directory that cannot be created fails the session here, before any stage.
func newPipeline(ctx context.Context, opts *Options) (*pipeline, error) {
	cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	paths := newSession(cfg)
	fs := afero.NewOsFs()

	if err = fs.MkdirAll(paths.TempPath, logger.LogDirPermissions); err != nil {
		return nil, err
	}

	log, err := logger.OpenSession(fs, paths.LogsDir, logFilename)
	if err != nil {
		return nil, err
	}

	run := runner.New(log, paths.TempPath)
	env := envctx.FromOS()
	fetch := fetcher.New(fs, log, run, env,
		fetcher.WithRetryBudget(cfg.FetchRetryBudget, fetchRetryUnit))

	p := &pipeline{
		cfg:     cfg,
		paths:   paths,
		fs:      fs,
		log:     log,
		run:     run,
		fetch:   fetch,
		env:     env,
		tools:   tools.NewProvisioner(fs, log, env),
		confirm: confirmOnStdin,
	}

	if opts.AssumeYes {
		p.confirm = func(string) bool { return true }
	}

	logger.InfoKV(ctx, "Session prepared",
		"install_path", paths.InstallPath, "temp_path", paths.TempPath)

	return p, nil
}

// close releases the session log.
func (p *pipeline) close(ctx context.Context) {
	if err := p.log.Close(); err != nil {
		logger.Warnf(ctx, "Closing session log: %v", err)
	}
}
