// Package commands provides the CLI commands for sessiond.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sessionkit/sessionkit/internal/config"
	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	workDir   string
	logLevel  string
	prettyLog bool
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "sessiond - session engine server",
	Long: `sessiond hosts the session engine: conversational, workflow and
tool-invocation sessions behind an HTTP API.

Run 'sessiond serve' to start the server, or 'sessiond run' to execute
a workflow document from the command line.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Working directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("sessiond %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getWorkDir returns the working directory from flag or current directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// loadConfig loads .env, the config stack, and initializes logging.
func loadConfig() (*types.Config, string, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, "", err
	}

	_ = godotenv.Load()

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, "", err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if prettyLog {
		cfg.PrettyLog = true
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Pretty: cfg.PrettyLog})

	return cfg, dir, nil
}
