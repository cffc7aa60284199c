package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mblock-stager/internal/config"
	"github.com/oshokin/mblock-stager/internal/logger"
	"github.com/oshokin/mblock-stager/internal/service/stager"
	"github.com/oshokin/mblock-stager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// buildDir overrides the build directory from the configuration.
	buildDir string
	// logLevel is the minimal level written to stderr.
	logLevel string

	// rootCmd represents the base command for staging the packager inputs.
	rootCmd = &cobra.Command{
		Use:   "mblock-stager",
		Short: "Stage mBlock and the Arduino AVR toolchain for packaging.",
		Long: `Prepares the build directory consumed by the IDE packager.

The mBlock Windows installer must be placed in the project root by hand; it is
extracted with 7-zip. The Arduino distribution is downloaded and stream-extracted.
Finally the ml resources tree is rebuilt with the Arduino AVR toolchain and its
symbolic links repaired. Phases whose output already exists are skipped.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: applyLogLevel,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &stager.Options{
				ConfigPath: configPath,
				BuildDir:   buildDir,
			}

			return stager.Run(ctx, options)
		},
	}

	// configCmd groups configuration helpers.
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file.",
	}

	// configInitCmd writes the defaults so they can be edited.
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if buildDir != "" {
				cfg.BuildDir = buildDir
			}

			if err := config.Save(configPath, cfg); err != nil {
				return err
			}

			logger.InfoKV(cmd.Context(), "Configuration written", "path", configPath)

			return nil
		},
	}
)

// Execute runs the mblock-stager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyLogLevel sets the global logger level from the --log-level flag.
func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&buildDir, "build-dir", "b", "", "override the build directory from the configuration")
	rootCmd.PersistentFlags().
		StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, error")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
