package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/llxisdsh/clht/internal/bench"
)

var (
	historyDB    string
	historyLimit int
)

func init() {
	cmd := newHistoryCmd()
	cmd.PersistentFlags().StringVar(&historyDB, "db", "clhtbench.db", "History database")
	rootCmd.AddCommand(cmd)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `The history command reads the runs stored with "run --record" or
"compare --record".

Example:
  clhtbench history list --db bench.db
  clhtbench history show 3 --db bench.db
  clhtbench history summary --db bench.db --json
  clhtbench history delete 3 --db bench.db`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd.Context())
		},
	}
	list.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs (0 = all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd.Context(), args)
		},
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Best and mean ns/op of every target and workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistorySummary(cmd.Context())
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryDelete(cmd.Context(), args)
		},
	}

	cmd.AddCommand(list, show, summary, del)
	return cmd
}

func withHistory(ctx context.Context, fn func(ctx context.Context, h *bench.History) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(historyDB); err != nil {
		return fmt.Errorf("history database %s: %w", historyDB, err)
	}
	printVerbose("Opening history: %s\n", historyDB)
	h, err := bench.OpenHistory(historyDB)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(ctx, h)
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}

func runHistoryList(ctx context.Context) error {
	return withHistory(ctx, func(ctx context.Context, h *bench.History) error {
		runs, err := h.List(ctx, historyLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			printInfo("No recorded runs\n")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tHOST\tGO\tTHREADS\tKEYS\tTARGETS")
		for _, r := range runs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Hostname, r.GoVersion,
				r.Threads, r.KeyCount, strings.Join(r.Targets, ","))
		}
		return tw.Flush()
	})
}

func runHistoryShow(ctx context.Context, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	return withHistory(ctx, func(ctx context.Context, h *bench.History) error {
		report, err := h.Load(ctx, id)
		if err != nil {
			return err
		}
		if jsonOut {
			return report.WriteJSON(os.Stdout)
		}
		printInfo("Run %d, %s on %s\n", report.ID, report.Started.Format("2006-01-02 15:04:05"), report.Host.Hostname)
		return report.WriteText(os.Stdout)
	})
}

func runHistorySummary(ctx context.Context) error {
	return withHistory(ctx, func(ctx context.Context, h *bench.History) error {
		stats, err := h.Summary(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(stats)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKLOAD\tTARGET\tRUNS\tBEST NS/OP\tMEAN NS/OP")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%.1f\n", s.Workload, s.Target, s.Runs, s.BestNs, s.MeanNs)
		}
		return tw.Flush()
	})
}

func runHistoryDelete(ctx context.Context, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	return withHistory(ctx, func(ctx context.Context, h *bench.History) error {
		if err := h.Delete(ctx, id); err != nil {
			return err
		}
		printInfo("Deleted run %d\n", id)
		return nil
	})
}
