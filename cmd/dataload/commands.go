package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dataload/internal/config"
	"dataload/internal/pipeline"
	"dataload/internal/storage"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose bool
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "dataload",
		Short:        "Copy a SQL query result into a freshly created table or CSV file",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable progress and debug logs")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment variables from this file (default .env when present)")

	root.AddCommand(newRunCmd(opts), newCheckCmd(opts), newBackendsCmd())
	return root
}

func (o *rootOptions) load(path string) (*config.Transfer, error) {
	var envFiles []string
	if o.envFile != "" {
		envFiles = append(envFiles, o.envFile)
	}
	return config.Load(path, envFiles...)
}

// lint prints every issue and fails when at least one is an error.
func lint(w io.Writer, path string, t *config.Transfer) error {
	issues := config.ValidateTransfer(*t)
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid: %s", path)
	}
	return nil
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		cfgPath        string
		allowEmpty     bool
		metricsBackend string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transfer described by a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := root.load(cfgPath)
			if err != nil {
				return err
			}
			if allowEmpty {
				t.Run.AllowEmpty = true
			}
			if metricsBackend != "" {
				t.Run.Metrics.Backend = metricsBackend
			}
			if err := lint(cmd.ErrOrStderr(), cfgPath, t); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTransfer(ctx, cmd.ErrOrStderr(), t, root.verbose)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "transfer config JSON path")
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "produce an empty target instead of failing when the query returns no rows")
	cmd.Flags().StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: none, prometheus or datadog (overrides the config)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runTransfer(ctx context.Context, w io.Writer, t *config.Transfer, verbose bool) error {
	l := pipeline.NewLogListener(w, verbose)
	start := time.Now()

	tr, err := build(ctx, t, l, start)
	if err != nil {
		return err
	}
	defer tr.Close()

	flush, err := setupMetrics(t.Run.Metrics, tr.req.Job, l)
	if err != nil {
		return err
	}
	defer flush()

	if verbose {
		log.Printf("transfer: job=%s source=%s destination=%s target=%s",
			tr.req.Job, t.Source.Kind, t.Destination.Kind, tr.req.Target.Name())
	}
	sum, err := tr.engine.Run(ctx)
	st := tr.source.Stats()
	if err != nil {
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			pipeline.Warnf(l, "transfer failed at %s: batches=%d committed=%d extracted=%d",
				runErr.Stage, runErr.Batches, runErr.RowsCommitted, st.Rows)
		}
		return err
	}
	pipeline.Infof(l, "transfer %s: subjects=%d extracted=%d duplicates=%d committed=%d warnings=%d elapsed=%s",
		tr.req.Target.Name(), st.Subjects, st.Rows, st.Duplicates, sum.RowsCommitted,
		l.Warnings(), sum.Elapsed.Truncate(time.Millisecond))
	return nil
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and probe source and destination without writing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := root.load(cfgPath)
			if err != nil {
				return err
			}
			if err := lint(cmd.ErrOrStderr(), cfgPath, t); err != nil {
				return err
			}

			l := pipeline.NewLogListener(cmd.ErrOrStderr(), root.verbose)
			tr, err := build(cmd.Context(), t, l, time.Now())
			if err != nil {
				return err
			}
			defer tr.Close()
			if err := tr.engine.Check(cmd.Context()); err != nil {
				return fmt.Errorf("check failed:\n%w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s -> %s\n", t.Source.Kind, tr.req.Target.Name())
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "transfer config JSON path")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered storage kinds",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range storage.ListKinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "csv (destination only)")
		},
	}
}
