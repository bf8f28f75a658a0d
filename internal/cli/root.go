package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/config"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	logVerbose bool
	logDebug   bool
	logFile    string

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` manages clones of the plugin framework, their extensions and the
host versions they are attached to, and runs command scripts inside host instances.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.Load()
		logger, closer, err := ctxlog.New(ctxlog.Options{Verbose: logVerbose, Debug: logDebug, File: logFile})
		if err != nil {
			return err
		}
		logCloser = closer
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(ctxlog.WithLogger(ctx, logger))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logVerbose, "verbose", false, "Log progress messages")
	rootCmd.PersistentFlags().BoolVar(&logDebug, "debug", false, "Log debug messages")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", "", "Write logs to `file` instead of stderr")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrln("Error:", err)
	}
	return err
}
