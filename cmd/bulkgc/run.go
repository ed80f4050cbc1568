package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dray-io/bulkgc/internal/bulk"
	"github.com/dray-io/bulkgc/internal/gc"
)

// submitOptions are the flags shared by run and gc.
type submitOptions struct {
	repository string
	user       string
	bucketSize int
	batchSize  int
	timeout    time.Duration
	output     string
}

func (o *submitOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.repository, "repository", "r", "", "target repository")
	cmd.Flags().StringVarP(&o.user, "user", "u", "system", "submitting user")
	cmd.Flags().IntVar(&o.bucketSize, "bucket-size", bulk.DefaultBucketSize, "ids per bucket")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", 0, "ids per batch (default: min(25, bucket size))")
	cmd.Flags().DurationVar(&o.timeout, "timeout", time.Hour, "abort the command when it runs longer")
	cmd.Flags().StringVarP(&o.output, "output", "o", outputTable, "output format (table|json)")
	_ = cmd.MarkFlagRequired("repository")
}

func (o *submitOptions) builder(action string) *bulk.Builder {
	batch := o.batchSize
	if batch == 0 {
		batch = min(bulk.DefaultBatchSize, o.bucketSize)
	}
	return bulk.NewCommand(action, o.repository).
		User(o.user).
		BucketSize(o.bucketSize).
		BatchSize(batch)
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		opts     submitOptions
		query    string
		scroller string
		params   []string
	)
	cmd := &cobra.Command{
		Use:   "run <action>",
		Short: "Run a bulk command in process and wait for it",
		Long: `Run a bulk command against the configured stores and wait for it.

Exit codes: 0 on success, 2 when the command is invalid, 3 when some items
failed, 1 when the command was aborted or could not run.`,
		Example: `  bulkgc run setProperties -r default -q "color=red" -p color=blue
  bulkgc run delete -r default -q "*"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return &exitError{code: exitValidation, err: err}
			}
			b := opts.builder(args[0]).Query(query).Scroller(scroller)
			for k, v := range p {
				b = b.Param(k, v)
			}
			built, err := b.Build()
			if err != nil {
				return err
			}
			return submitAndWait(cmd, root, &opts, built)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&query, "query", "q", "", "query selecting the documents")
	cmd.Flags().StringVar(&scroller, "scroller", "", "scroller (default: the action's)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "action parameter as key=value (repeatable)")
	return cmd
}

func newGCCmd(root *rootOptions) *cobra.Command {
	var (
		opts     submitOptions
		provider string
		dryRun   bool
		report   string
	)
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Collect orphan blobs of a repository",
		Long: `Mark every blob referenced by the repositories sharing storage with the
repository's providers, then delete the unreferenced ones.

With --dry-run nothing is deleted; the result reports what would be.
With --report the orphans are also written to a Parquet file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := opts.builder(gc.OrphanActionName).Param(gc.ParamDryRun, dryRun)
			if provider != "" {
				b = b.Param(gc.ParamProvider, provider)
			}
			if report != "" {
				b = b.Param(gc.ParamReportPath, report)
			}
			built, err := b.Build()
			if err != nil {
				return err
			}
			return submitAndWait(cmd, root, &opts, built)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&provider, "provider", "", "only sweep this provider")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	cmd.Flags().StringVar(&report, "report", "", "write the orphans to this Parquet file")
	return cmd
}

// submitAndWait runs built in a process-local service and prints its final
// status.
func submitAndWait(cmd *cobra.Command, root *rootOptions, opts *submitOptions, built bulk.Command) error {
	cfg, log, err := root.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	id, err := app.Bulk.Submit(ctx, built)
	if err != nil {
		return err
	}

	done, err := app.Bulk.AwaitCommand(ctx, id, opts.timeout)
	if err != nil || !done {
		abortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, aerr := app.Bulk.Abort(abortCtx, id); aerr != nil {
			log.Errorf("abort failed", map[string]any{"commandId": id, "error": aerr.Error()})
		}
		_, _ = app.Bulk.AwaitCommand(abortCtx, id, 10*time.Second)
	}

	st, err := app.Bulk.GetStatus(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("command %s vanished", id)
	}
	if err := printStatus(cmd.OutOrStdout(), opts.output, st); err != nil {
		return err
	}
	return statusExit(st)
}

// parseParams parses key=value pairs. "true" and "false" become booleans.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", pair)
		}
		switch v {
		case "true":
			out[k] = true
		case "false":
			out[k] = false
		default:
			out[k] = v
		}
	}
	return out, nil
}
