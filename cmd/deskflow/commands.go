package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/deskflow/internal/diagram"
	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/internal/streaming"
	"github.com/rendis/deskflow/pkg/schema"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		inputs       string
		providerName string
		query        string
		record       bool
		trace        bool
	)
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow graph file",
		Long: "Execute a workflow graph file (JSON or YAML) and print the run result.\n" +
			"Exit status is 0 when the run completes, 2 when it terminates without\n" +
			"reaching an output node and 1 when it fails.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, err := parseInputs(inputs)
			if err != nil {
				return fmt.Errorf("--inputs: %w", err)
			}

			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gf, err := a.loadGraph(ctx, args[0])
			if err != nil {
				return err
			}
			printIssues(cmd.ErrOrStderr(), gf.result)
			if gf.graph == nil {
				return exitError{code: 1}
			}
			if err := a.useProvider(ctx, providerName); err != nil {
				return err
			}

			opts := a.options()
			var st *store.LibSQLStore
			if record {
				if st, err = a.openStore(ctx); err != nil {
					return err
				}
			}
			stopTrace := func() {}
			if trace {
				hub := streaming.NewMemoryHub()
				if stopTrace, err = traceEvents(ctx, hub, cmd.ErrOrStderr()); err != nil {
					return err
				}
				if st != nil {
					opts.Events = streaming.NewAppender(hub, st)
				} else {
					opts.Events = streaming.NewAppender(hub, nil)
				}
			}

			var (
				res    *engine.Result
				runErr error
			)
			if st != nil {
				res, runErr = engine.NewService(st, nil, opts).RunGraph(ctx, gf.def, in)
			} else {
				res, runErr = engine.New(opts).Run(ctx, gf.graph, in)
			}
			stopTrace()
			if res == nil {
				return runErr
			}

			var out any = res
			if query != "" {
				if out, err = a.query.Query(ctx, query, res); err != nil {
					return err
				}
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}

			switch {
			case runErr != nil:
				fmt.Fprintf(cmd.ErrOrStderr(), "run %s failed: %v\n", res.RunID, runErr)
				return exitError{code: 1}
			case res.Status == schema.RunStatusTerminated:
				return exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inputs, "inputs", "", "initial context as a JSON object, or @file (JSON or YAML)")
	cmd.Flags().StringVar(&providerName, "provider", "auto", "task provider: auto, echo or mcp")
	cmd.Flags().StringVar(&query, "query", "", "jq expression applied to the run result")
	cmd.Flags().BoolVar(&record, "record", false, "store the run in the history database")
	cmd.Flags().BoolVar(&trace, "trace", false, "print run and node events to stderr as they happen")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow graph file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gf, err := a.loadGraph(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), map[string]any{
					"valid":    gf.result.Valid(),
					"errors":   gf.result.Errors,
					"warnings": gf.result.Warnings,
				}); err != nil {
					return err
				}
			} else {
				printIssues(cmd.OutOrStdout(), gf.result)
				if gf.result.Valid() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes)\n", gf.path, len(gf.graph.Nodes()))
				}
			}
			if !gf.result.Valid() {
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the validation result as JSON")
	return cmd
}

func newDiagramCmd(c *cli) *cobra.Command {
	var (
		format string
		out    string
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "diagram <file>",
		Short: "Draw a workflow graph file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gf, err := a.loadGraph(ctx, args[0])
			if err != nil {
				return err
			}
			if gf.graph == nil {
				printIssues(cmd.ErrOrStderr(), gf.result)
				return exitError{code: 1}
			}

			var overlay diagram.Overlay
			if runID != "" {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				replay, err := store.NewEventLog(st).Replay(ctx, runID)
				if err != nil {
					return err
				}
				overlay = diagram.ReplayOverlay(replay)
			}

			title := strings.TrimSuffix(filepath.Base(gf.path), filepath.Ext(gf.path))
			model := diagram.Build(gf.graph, title, overlay)

			var data []byte
			switch format {
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model))
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case diagram.ImagePNG, diagram.ImageSVG:
				if out == "" {
					return fmt.Errorf("--out is required for %s output", format)
				}
				if data, err = diagram.RenderImage(ctx, model, format); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (use mermaid, ascii, png or svg)", format)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "diagram written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "output format: mermaid, ascii, png or svg")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&runID, "run", "", "overlay the path of a recorded run")
	return cmd
}

// traceEvents prints events published on hub to w until the returned stop
// function is called. stop waits for pending lines to be written.
func traceEvents(ctx context.Context, hub *streaming.MemoryHub, w io.Writer) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			fmt.Fprintf(w, "%s  %-19s %-12s %s\n", e.Timestamp.Format("15:04:05.000"), e.EventType, e.NodeID, e.Payload)
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func printIssues(w io.Writer, result *schema.ValidationResult) {
	if result == nil {
		return
	}
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "error   %s  %s  %s\n", issue.Path(), issue.Code, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning %s  %s  %s\n", issue.Path(), issue.Code, issue.Message)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
