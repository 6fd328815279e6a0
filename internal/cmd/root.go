// Package cmd provides the CLI commands for pi-island.
package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/soporteakasiapro1-art/pi-island/internal/config"
	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
)

// global flags
var (
	profileFile *os.File // held open for profiling
	logPath     string
	verbose     bool
	sessionsDir string
)

// rootCmd is the root command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "pi-island",
	Short: "Observe and drive pi coding agents",
	Long: `pi-island runs pi agents in RPC mode, keeps a live registry of their
sessions, and merges it with past sessions recovered from transcript files.

Commands:
  serve     Run the session manager and its HTTP bridge
  sessions  List and view transcripts on disk
  logs      View the serve log
  version   Print version information

Examples:
  pi-island serve                  # Serve on localhost:8796
  pi-island sessions list          # Newest transcripts first
  pi-island sessions view abcd1234 # Render one transcript`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Start pprof profiling if PI_ISLAND_PROFILE is set
		if profilePath := os.Getenv("PI_ISLAND_PROFILE"); profilePath != "" {
			f, err := os.Create(profilePath)
			if err != nil {
				return fmt.Errorf("create profile file: %w", err)
			}
			profileFile = f

			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				profileFile = nil
				return fmt.Errorf("start CPU profile: %w", err)
			}
		}
		if logPath != "" {
			return islandlog.Init(logPath, verbose)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if profileFile != nil {
			pprof.StopCPUProfile()
			profileFile.Close()
			profileFile = nil
		}
		return islandlog.Log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "keep debug records in the log")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write log to file")
	rootCmd.PersistentFlags().StringVar(&sessionsDir, "dir", "", "transcript root (default: from config, ~/.pi/agent/sessions)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies the --dir override.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if sessionsDir != "" {
		cfg.Sessions.Dir = sessionsDir
	}
	return cfg, nil
}
