package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/config"
	"github.com/surge-downloader/offline/internal/core"
	"github.com/surge-downloader/offline/internal/engine"
	"github.com/surge-downloader/offline/internal/tui"
	"github.com/surge-downloader/offline/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Set up by PersistentPreRunE for every command
var (
	settings *config.Settings
	logger   *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "offline",
	Short: "Download DASH, HLS and plain media for offline playback",
	Long: `offline fetches adaptive streams and plain media files into a local
directory so they can be played back without a network connection.

Without a subcommand it opens the dashboard over every unfinished item.`,
	Version:           Version,
	SilenceUsage:      true,
	Args:              cobra.NoArgs,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			items, err := svc.List(ctx)
			if err != nil {
				return err
			}
			return runDashboard(ctx, svc, unfinished(items), false)
		})
	},
}

// setup loads settings and builds the file logger
func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	s, err := config.LoadSettings(path)
	if err != nil {
		return err
	}
	settings = s

	logsDir := config.GetLogsDir()
	l, err := utils.NewLogger(logsDir, verbose)
	if err != nil {
		return err
	}
	logger = l
	utils.CleanupLogs(logsDir, settings.General.LogRetentionCount)

	tui.ApplyTheme(settings.General.Theme)
	return nil
}

// withService starts an engine over the state directory, runs fn and shuts
// the engine down. Items still running are resumed by the next start.
func withService(ctx context.Context, fn func(ctx context.Context, svc *core.LocalDownloadService) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := engine.New(settings.ToRuntimeConfig(), engine.Options{
		StateDir: config.GetStateDir(),
		Logger:   logger,
	})
	if err := e.Start(ctx); err != nil {
		return err
	}
	svc := core.NewLocalDownloadService(e)

	runErr := fn(ctx, svc)
	if err := svc.Shutdown(); err != nil {
		logger.Warn("engine shutdown", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "settings file (default "+config.GetSettingsPath()+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "mirror debug logs to stderr")
	rootCmd.SetVersionTemplate(fmt.Sprintf("offline version {{.Version}} (built %s)\n", BuildTime))

	rootCmd.AddCommand(addCmd, listCmd, tracksCmd, downloadCmd, removeCmd, pathCmd, settingsCmd)
}
