package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	if err := Execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autoflair",
		Short:         "Learn a subreddit's flairs and apply them to new posts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-file", "", "Also append logs to this file")
	pf.String("subreddit", "", "Subreddit to work on")
	pf.String("data-dir", "", "Directory holding the dataset database")
	pf.String("model-path", "", "Directory of the model bundle")

	root.AddCommand(
		extractCmd(),
		trainCmd(),
		monitorCmd(),
		runCmd(),
		exportCmd(),
		importCmd(),
		predictionsCmd(),
	)
	return root
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Collect labeled posts from the subreddit's history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				client, err := e.reddit()
				if err != nil {
					return err
				}
				return e.extract(ctx, client)
			})
		},
	}
	cmd.Flags().Int("posts", 0, "Number of labeled posts to collect")
	return cmd
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on the extracted dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return e.train(ctx)
			})
		},
	}
	addTrainFlags(cmd)
	return cmd
}

func addTrainFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("seed", -1, "Seed for the train/test split (negative: random)")
	cmd.Flags().Float64("min-accuracy", 0, "Reject models scoring below this held-out accuracy")
}

func addMonitorFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("wait-threshold", 0, "Minimum post age before tagging")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch new submissions and apply predicted flairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				client, err := e.reddit()
				if err != nil {
					return err
				}
				return e.monitor(ctx, client)
			})
		},
	}
	addMonitorFlags(cmd)
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract and train when needed, then monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return e.run(ctx)
			})
		},
	}
	cmd.Flags().Int("posts", 0, "Number of labeled posts to collect")
	addTrainFlags(cmd)
	addMonitorFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the extracted dataset as JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return e.export(ctx, out)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "records.jsonl", "Output file")
	return cmd
}

func importCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the dataset with records from a JSONL or JSON array file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				return e.importRecords(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input file (required)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func predictionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "predictions",
		Short: "List the most recently applied flairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				preds, err := e.store.RecentPredictions(ctx, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, p := range preds {
					fmt.Fprintf(w, "%s  %-10s %5.1f%%  %-20s %s\n",
						p.TaggedAt.Format("2006-01-02 15:04"), p.PostID, p.Confidence*100, p.Flair, p.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of predictions to show")
	return cmd
}
