package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/deskflow/internal/logging"
)

// exitError ends the process with a status code and no further message.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// cli carries state resolved before any subcommand runs.
type cli struct {
	cfg    Config
	level  *slog.LevelVar
	logger *slog.Logger

	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	c := &cli{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "deskflow",
		Short:         "Run support-desk workflow graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.cfg = loadConfig()
			if c.dbPath != "" {
				c.cfg.DBPath = c.dbPath
			}
			if c.logLevel != "" {
				c.cfg.LogLevel = c.logLevel
			}
			c.level.Set(logging.ParseLevel(c.cfg.LogLevel))
			c.logger = logging.New(cmd.ErrOrStderr(), c.level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "history database path (default: ~/.deskflow/deskflow.db)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(c),
		newValidateCmd(c),
		newDiagramCmd(c),
		newServeCmd(c),
		newInitCmd(c),
		newVersionCmd(),
	)
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
