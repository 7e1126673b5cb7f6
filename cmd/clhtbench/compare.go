package main

import (
	"github.com/spf13/cobra"
)

var compareOpts benchFlags

func init() {
	cmd := newCompareCmd()
	addBenchFlags(cmd, &compareOpts)
	rootCmd.AddCommand(cmd)
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [target...]",
		Short: "Compare targets side by side",
		Long: `The compare command runs the same workloads against every target, all
targets by default, and prints each result relative to the fastest target
of its workload. A target that fails verification is reported and skipped.

Example:
  clhtbench compare
  clhtbench compare clht pb xsync haxmap
  clhtbench compare --keys 50000 --min-len 4 --max-len 8 --record bench.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"all"}
			}
			_, err := runBench(cmd.Context(), &compareOpts, args, true)
			return err
		},
	}
	return cmd
}
