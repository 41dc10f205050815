package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/envforge/internal/config"
	"github.com/oshokin/envforge/internal/logger"
	"github.com/oshokin/envforge/internal/service/provisioner"
	"github.com/oshokin/envforge/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string

	// installPath overrides the settings' install root.
	installPath string

	// tempPath overrides the settings' scratch root.
	tempPath string

	// logLevel sets the console log verbosity.
	logLevel string

	// assumeYes pre-approves destructive confirmations for unattended runs.
	assumeYes bool

	// rootCmd represents the base command for provisioning an environment.
	rootCmd = &cobra.Command{
		Use:   "envforge",
		Short: "Provision an ML application environment unattended",
		Long: "envforge bootstraps required tools, clones the application source, " +
			"builds an isolated runtime and installs its dependencies, " +
			"accelerated components and plugins in one unattended run.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &provisioner.Options{
				ConfigPath:  configPath,
				InstallPath: installPath,
				TempPath:    tempPath,
				AssumeYes:   assumeYes,
			}

			return provisioner.Run(ctx, options)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the envforge CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	rootCmd.Flags().StringVar(&installPath, "install-path", "", "override the install root")
	rootCmd.Flags().StringVar(&tempPath, "temp-path", "", "override the scratch root")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "console log level (debug, info, warn, error, fatal)")
	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation")
}
