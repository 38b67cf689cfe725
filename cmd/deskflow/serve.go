package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/logging"
	"github.com/rendis/deskflow/internal/scheduler"
	"github.com/rendis/deskflow/pkg/mcp"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		providerName string
		noScheduler  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow tools over MCP stdio and run scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, c, providerName, !noScheduler)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "auto", "task provider: auto, echo or mcp")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled jobs")
	return cmd
}

func runServe(ctx context.Context, c *cli, providerName string, withScheduler bool) error {
	a, err := newApp(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if err := a.useProvider(ctx, providerName); err != nil {
		return err
	}

	svc := engine.NewService(st, nil, a.options())

	var sched *scheduler.Scheduler
	if withScheduler {
		sched = scheduler.NewScheduler(st, svc, time.Duration(a.cfg.SchedulerInterval), a.logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			a.logger.Warn("missed job recovery failed", "error", err.Error())
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	if err := writePidFile(); err != nil {
		a.logger.Warn("pid file not written", "error", err.Error())
	} else {
		defer os.Remove(pidPath())
	}

	go watchReload(ctx, c)

	srv := mcp.NewDeskflowServer(mcp.DeskflowServerDeps{
		Service:   svc,
		Validator: a.validator,
		Store:     st,
		Scheduler: sched,
		Query:     a.query,
		Logger:    a.logger,
	})
	a.logger.Info("deskflow serving on stdio", "db_path", a.cfg.DBPath, "scheduler", withScheduler)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// watchReload re-reads the configuration on SIGHUP. The log level applies
// at once; other changes are reported as needing a restart.
func watchReload(ctx context.Context, c *cli) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next := loadConfig()
			next.DBPath = c.cfg.DBPath
			if c.logLevel != "" {
				next.LogLevel = c.logLevel
			}
			d := diffConfigs(c.cfg, next)
			if d.LogLevelChanged {
				c.level.Set(logging.ParseLevel(next.LogLevel))
				c.cfg.LogLevel = next.LogLevel
				c.logger.Info("log level changed", "log_level", next.LogLevel)
			}
			if len(d.RestartNeeded) > 0 {
				c.logger.Warn("configuration changes need a restart", "fields", strings.Join(d.RestartNeeded, ","))
			}
		}
	}
}

func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidPath()), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// signalRunningServer sends SIGHUP to a running deskflow server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return proc.Signal(syscall.SIGHUP) == nil
}
