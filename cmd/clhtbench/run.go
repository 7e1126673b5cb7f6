package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/llxisdsh/clht/internal/bench"
)

// benchFlags holds the workload flags shared by run and compare.
type benchFlags struct {
	keys      int
	minLen    int
	maxLen    int
	seed      uint64
	threads   int
	capacity  int
	workloads []string
	ratio     float64
	record    string
	noVerify  bool
}

func defaultBenchFlags() benchFlags {
	cfg := bench.DefaultConfig()
	return benchFlags{
		keys:   cfg.Keys.Count,
		minLen: cfg.Keys.MinLen,
		maxLen: cfg.Keys.MaxLen,
		seed:   cfg.Keys.Seed,
		ratio:  cfg.InsertRatio,
	}
}

func addBenchFlags(cmd *cobra.Command, f *benchFlags) {
	*f = defaultBenchFlags()
	fs := cmd.Flags()
	fs.IntVarP(&f.keys, "keys", "n", f.keys, "Number of distinct keys")
	fs.IntVar(&f.minLen, "min-len", f.minLen, "Minimum key length in bytes")
	fs.IntVar(&f.maxLen, "max-len", f.maxLen, "Maximum key length in bytes")
	fs.Uint64Var(&f.seed, "seed", f.seed, "Key generator seed")
	fs.IntVarP(&f.threads, "threads", "t", 0, "Goroutines per workload (0 = GOMAXPROCS)")
	fs.IntVar(&f.capacity, "capacity", 0, "Initial map capacity (0 = number of keys)")
	fs.StringSliceVarP(&f.workloads, "workload", "w", nil,
		"Workloads to run: insert, lookup-hit, lookup-miss, mixed, remove (default all)")
	fs.Float64Var(&f.ratio, "ratio", f.ratio, "Share of inserts in the mixed workload, in [0, 1]")
	fs.StringVar(&f.record, "record", "", "Record the report in this history database")
	fs.BoolVar(&f.noVerify, "no-verify", false, "Report wrong answers instead of failing")
}

func (f *benchFlags) config() (bench.Config, error) {
	cfg := bench.DefaultConfig()
	cfg.Keys = bench.KeySpec{Count: f.keys, MinLen: f.minLen, MaxLen: f.maxLen, Seed: f.seed}
	if f.threads < 0 {
		return cfg, fmt.Errorf("--threads must not be negative, got %d", f.threads)
	}
	if f.capacity < 0 {
		return cfg, fmt.Errorf("--capacity must not be negative, got %d", f.capacity)
	}
	if math.IsNaN(f.ratio) || f.ratio < 0 || f.ratio > 1 {
		return cfg, fmt.Errorf("--ratio must be in [0, 1], got %v", f.ratio)
	}
	cfg.Threads = f.threads
	cfg.Capacity = f.capacity
	cfg.InsertRatio = f.ratio
	cfg.Verify = !f.noVerify
	if len(f.workloads) > 0 {
		cfg.Workloads = cfg.Workloads[:0]
		for _, name := range f.workloads {
			w, err := bench.ParseWorkload(name)
			if err != nil {
				return cfg, err
			}
			cfg.Workloads = append(cfg.Workloads, w)
		}
	}
	return cfg, nil
}

var runOpts benchFlags

func init() {
	cmd := newRunCmd()
	addBenchFlags(cmd, &runOpts)
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [target...]",
		Short: "Run workloads against selected targets",
		Long: `The run command generates a deterministic key set, runs the selected
workloads against each target and prints the throughput. It stops at the
first target that gives a wrong answer unless --no-verify is set.

Targets default to clht-hybrid. "all" selects every target and "clht"
every clht variant; see "clhtbench targets".

Example:
  clhtbench run
  clhtbench run clht pb xsync --keys 1000000 --threads 8
  clhtbench run clht-inline --max-len 16 --workload insert,lookup-hit
  clhtbench run all --record bench.db --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"clht-hybrid"}
			}
			_, err := runBench(cmd.Context(), &runOpts, args, false)
			return err
		},
	}
	return cmd
}

// runBench runs every target named in names and writes the report. With
// keepGoing a failing target is reported and skipped.
func runBench(ctx context.Context, f *benchFlags, names []string, keepGoing bool) (*bench.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	targets, err := bench.SelectTargets(names)
	if err != nil {
		return nil, err
	}

	report := bench.NewReport(cfg)
	var runner bench.Runner
	for _, target := range targets {
		printVerbose("Running %s\n", target.Name)
		results, err := runner.Run(ctx, target, cfg)
		report.Results = append(report.Results, results...)
		if err != nil {
			if !keepGoing || ctx.Err() != nil {
				return report, err
			}
			printError("%v\n", err)
		}
	}

	if f.record != "" {
		if err := recordReport(ctx, f.record, report); err != nil {
			return report, err
		}
	}
	if jsonOut {
		return report, report.WriteJSON(os.Stdout)
	}
	if !quiet {
		if err := report.WriteText(os.Stdout); err != nil {
			return report, err
		}
	}
	if report.ID != 0 {
		printInfo("\nRecorded as run %d in %s\n", report.ID, f.record)
	}
	return report, nil
}

func recordReport(ctx context.Context, path string, report *bench.Report) error {
	h, err := bench.OpenHistory(path)
	if err != nil {
		return err
	}
	_, err = h.Record(ctx, report)
	return errors.Join(err, h.Close())
}
