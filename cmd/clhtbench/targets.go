package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/llxisdsh/clht/internal/bench"
)

func init() {
	rootCmd.AddCommand(newTargetsCmd())
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the maps that can be benchmarked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets()
		},
	}
}

type targetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func runTargets() error {
	targets := bench.Targets()
	if jsonOut {
		infos := make([]targetInfo, len(targets))
		for i, t := range targets {
			infos[i] = targetInfo{Name: t.Name, Description: t.Description}
		}
		return printJSON(infos)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, t := range targets {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
	}
	return tw.Flush()
}
