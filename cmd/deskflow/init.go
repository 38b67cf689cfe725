package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newInitCmd(c *cli) *cobra.Command {
	var (
		dbPath          string
		logLevel        string
		maxSteps        int
		providerCommand string
		providerTool    string
		providerTimeout time.Duration
		verifyPolicy    string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write ~/.deskflow/settings.json",
		Long: "Write ~/.deskflow/settings.json from the current configuration plus the\n" +
			"given flags. A running server is signaled to reload.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			flags := cmd.Flags()
			if flags.Changed("db-path") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("max-steps") {
				if maxSteps <= 0 {
					return fmt.Errorf("--max-steps must be positive")
				}
				cfg.MaxSteps = maxSteps
			}
			if flags.Changed("provider-command") {
				fields := strings.Fields(providerCommand)
				cfg.ProviderCommand, cfg.ProviderArgs = "", nil
				if len(fields) > 0 {
					cfg.ProviderCommand, cfg.ProviderArgs = fields[0], fields[1:]
				}
			}
			if flags.Changed("provider-tool") {
				cfg.ProviderTool = providerTool
			}
			if flags.Changed("provider-timeout") {
				cfg.ProviderTimeout = Duration(providerTimeout)
			}
			if flags.Changed("verify-policy") {
				cfg.VerifyPolicy = verifyPolicy
			}

			path, err := writeSettings(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			if signalRunningServer() {
				fmt.Fprintln(cmd.OutOrStdout(), "Signaled running server to reload configuration")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbPath, "db-path", "", "history database path")
	f.StringVar(&logLevel, "level", "info", "log level: debug, info, warn, error")
	f.IntVar(&maxSteps, "max-steps", 0, "node visit limit per run")
	f.StringVar(&providerCommand, "provider-command", "", "MCP provider command line")
	f.StringVar(&providerTool, "provider-tool", "", "MCP tool called for each task")
	f.DurationVar(&providerTimeout, "provider-timeout", 0, "per-task provider timeout")
	f.StringVar(&verifyPolicy, "verify-policy", "", "document verification policy: keyword, keyword:<term> or cel:<expr>")
	return cmd
}

func writeSettings(cfg Config) (string, error) {
	if err := os.MkdirAll(deskflowDir(), 0o700); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", deskflowDir(), err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", path, err)
	}
	return path, nil
}
