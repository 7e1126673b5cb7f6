package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/llxisdsh/clht"
	"github.com/llxisdsh/clht/internal/bench"
)

var (
	infoStorage string
	infoHasher  string
	infoKeys    int
	infoMinLen  int
	infoMaxLen  int
	infoCap     int
)

func init() {
	cmd := newInfoCmd()
	cmd.Flags().StringVar(&infoStorage, "storage", "hybrid", "Key storage: arena, inline, pooled, hybrid")
	cmd.Flags().StringVar(&infoHasher, "hasher", "city", "Hash function: city, crc32, xxhash")
	cmd.Flags().IntVarP(&infoKeys, "keys", "n", 0, "Fill a table with this many keys and print its layout")
	cmd.Flags().IntVar(&infoMinLen, "min-len", 8, "Minimum key length in bytes")
	cmd.Flags().IntVar(&infoMaxLen, "max-len", 16, "Maximum key length in bytes")
	cmd.Flags().IntVar(&infoCap, "capacity", 0, "Table capacity (0 = number of keys)")
	rootCmd.AddCommand(cmd)
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show host and table layout information",
		Long: `The info command prints the host properties that affect clht: cache
line size and hardware CRC32 support. With --keys it fills a table with
generated keys and prints its bucket statistics.

Example:
  clhtbench info
  clhtbench info --keys 100000 --storage pooled --hasher crc32
  clhtbench info --keys 100000 --capacity 1024 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
}

type infoOutput struct {
	Host     bench.HostInfo `json:"host"`
	Table    *clht.Stats    `json:"table,omitempty"`
	FillTime time.Duration  `json:"fill_ns,omitempty"`
}

func runInfo() error {
	out := infoOutput{Host: bench.CollectHost()}
	if infoKeys > 0 {
		storage, err := clht.ParseStorageKind(infoStorage)
		if err != nil {
			return err
		}
		hasher, err := clht.ParseHashKind(infoHasher)
		if err != nil {
			return err
		}
		keys, err := bench.GenerateKeys(bench.KeySpec{Count: infoKeys, MinLen: infoMinLen, MaxLen: infoMaxLen, Seed: 1})
		if err != nil {
			return err
		}
		capacity := infoCap
		if capacity <= 0 {
			capacity = infoKeys
		}

		printVerbose("Filling a %s table with %d keys\n", storage, len(keys))
		t := clht.NewTable(capacity, clht.WithStorage(storage), clht.WithHasher(hasher))
		defer t.Close()
		start := time.Now()
		for i, k := range keys {
			if err := t.Insert(k, uintptr(i)); err != nil {
				return fmt.Errorf("insert key %d: %w", i, err)
			}
		}
		out.FillTime = time.Since(start)
		st := t.Stats()
		out.Table = &st
	}

	if jsonOut {
		return printJSON(out)
	}
	h := out.Host
	printInfo("Host: %s %s/%s\n", h.Hostname, h.GOOS, h.GOARCH)
	printInfo("  Go: %s\n", h.GoVersion)
	printInfo("  CPUs: %d (GOMAXPROCS %d)\n", h.NumCPU, h.GOMAXPROCS)
	printInfo("  Cache line: %d bytes\n", h.CacheLine)
	printInfo("  Hardware CRC32: %v\n", h.CRC32)
	printInfo("  AVX2: %v\n", h.AVX2)
	printInfo("  Race detector: %v\n", h.Race)
	if out.Table != nil {
		printInfo("\nFilled %d keys in %s\n", infoKeys, out.FillTime)
		printInfo("%s", out.Table)
		printInfo("Key bytes: %s used, %s reserved\n",
			bench.FormatBytes(out.Table.Keys.Used), bench.FormatBytes(out.Table.Keys.Reserved))
	}
	return nil
}
