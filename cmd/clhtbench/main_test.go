package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/llxisdsh/clht/internal/bench"
)

func smallFlags() benchFlags {
	f := defaultBenchFlags()
	f.keys = 500
	f.minLen = 2
	f.maxLen = 12
	f.threads = 2
	return f
}

func TestBenchFlags_Config(t *testing.T) {
	f := smallFlags()
	f.workloads = []string{"insert", "remove"}
	f.noVerify = true
	cfg, err := f.config()
	require.NoError(t, err)
	require.Equal(t, 500, cfg.Keys.Count)
	require.Equal(t, []bench.Workload{bench.WorkloadInsert, bench.WorkloadRemove}, cfg.Workloads)
	require.False(t, cfg.Verify)

	for _, mutate := range []func(*benchFlags){
		func(f *benchFlags) { f.ratio = -0.1 },
		func(f *benchFlags) { f.ratio = 1.5 },
		func(f *benchFlags) { f.ratio = math.NaN() },
		func(f *benchFlags) { f.threads = -1 },
		func(f *benchFlags) { f.capacity = -1 },
		func(f *benchFlags) { f.workloads = []string{"scan"} },
	} {
		f := smallFlags()
		mutate(&f)
		_, err := f.config()
		require.Error(t, err)
	}
}

func TestRunCommand_Text(t *testing.T) {
	resetGlobals()
	f := smallFlags()
	output, err := captureOutput(t, func() error {
		_, err := runBench(context.Background(), &f, []string{"clht-hybrid", "pb"}, false)
		return err
	})
	require.NoError(t, err)
	require.Contains(t, output, "clht-hybrid")
	require.Contains(t, output, "pb")
	require.Contains(t, output, "lookup-miss")
	require.Contains(t, output, "storage=hybrid")
}

func TestRunCommand_JSON(t *testing.T) {
	resetGlobals()
	jsonOut = true
	defer resetGlobals()

	f := smallFlags()
	output, err := captureOutput(t, func() error {
		_, err := runBench(context.Background(), &f, []string{"clht"}, false)
		return err
	})
	require.NoError(t, err)
	report, err := bench.ParseReport([]byte(output))
	require.NoError(t, err)
	require.NotEmpty(t, report.Results)
	for _, res := range report.Results {
		require.Zero(t, res.Wrong)
	}
}

func TestRunCommand_VerifyStops(t *testing.T) {
	resetGlobals()
	quiet = true
	defer resetGlobals()

	f := smallFlags()
	f.maxLen = 40
	_, err := captureOutput(t, func() error {
		_, err := runBench(context.Background(), &f, []string{"clht-inline", "pb"}, false)
		return err
	})
	require.ErrorIs(t, err, bench.ErrVerify)
}

func TestCompareCommand_KeepsGoing(t *testing.T) {
	resetGlobals()
	quiet = true
	defer resetGlobals()

	f := smallFlags()
	f.maxLen = 40
	f.workloads = []string{"insert", "lookup-hit"}
	var report *bench.Report
	_, err := captureOutput(t, func() error {
		var err error
		report, err = runBench(context.Background(), &f, []string{"clht-inline", "clht-arena", "xsync"}, true)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"clht-inline", "clht-arena", "xsync"}, report.Targets())
}

func TestRunCommand_UnknownTarget(t *testing.T) {
	resetGlobals()
	f := smallFlags()
	_, err := runBench(context.Background(), &f, []string{"nope"}, false)
	require.Error(t, err)
}

func TestRunCommand_RecordAndHistory(t *testing.T) {
	resetGlobals()
	quiet = true
	defer resetGlobals()

	db := filepath.Join(t.TempDir(), "bench.db")
	if h, err := bench.OpenHistory(db); err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	} else {
		h.Close()
	}

	f := smallFlags()
	f.record = db
	f.workloads = []string{"insert"}
	var report *bench.Report
	_, err := captureOutput(t, func() error {
		var err error
		report, err = runBench(context.Background(), &f, []string{"clht-pooled"}, false)
		return err
	})
	require.NoError(t, err)
	require.Positive(t, report.ID)

	historyDB = db
	historyLimit = 10
	quiet = false
	output, err := captureOutput(t, func() error { return runHistoryList(context.Background()) })
	require.NoError(t, err)
	require.Contains(t, output, "clht-pooled")

	output, err = captureOutput(t, func() error { return runHistoryShow(context.Background(), []string{"1"}) })
	require.NoError(t, err)
	require.Contains(t, output, "Run 1")

	jsonOut = true
	output, err = captureOutput(t, func() error { return runHistorySummary(context.Background()) })
	require.NoError(t, err)
	var stats []bench.TargetStat
	require.NoError(t, sonnet.Unmarshal([]byte(output), &stats))
	require.Len(t, stats, 1)
	require.Equal(t, "clht-pooled", stats[0].Target)
	jsonOut = false

	_, err = captureOutput(t, func() error { return runHistoryDelete(context.Background(), []string{"1"}) })
	require.NoError(t, err)
	err = runHistoryDelete(context.Background(), []string{"1"})
	require.ErrorIs(t, err, bench.ErrNoRun)
	require.Error(t, runHistoryDelete(context.Background(), []string{"x"}))

	historyDB = filepath.Join(t.TempDir(), "missing.db")
	require.Error(t, runHistoryList(context.Background()))
}

func TestTargetsCommand(t *testing.T) {
	resetGlobals()
	output, err := captureOutput(t, runTargets)
	require.NoError(t, err)
	for _, name := range bench.TargetNames() {
		require.Contains(t, output, name)
	}

	jsonOut = true
	defer resetGlobals()
	output, err = captureOutput(t, runTargets)
	require.NoError(t, err)
	var infos []targetInfo
	require.NoError(t, sonnet.Unmarshal([]byte(output), &infos))
	require.Len(t, infos, len(bench.Targets()))
}

func TestInfoCommand(t *testing.T) {
	resetGlobals()
	infoStorage, infoHasher = "pooled", "crc32"
	infoKeys, infoMinLen, infoMaxLen, infoCap = 300, 4, 20, 0
	defer func() { infoKeys = 0 }()

	output, err := captureOutput(t, runInfo)
	require.NoError(t, err)
	require.Contains(t, output, "Cache line")
	require.Contains(t, output, "Storage:         pooled")
	require.Contains(t, output, "Hasher:          crc32")

	jsonOut = true
	defer resetGlobals()
	output, err = captureOutput(t, runInfo)
	require.NoError(t, err)
	var out struct {
		Host  bench.HostInfo `json:"host"`
		Table struct {
			Size int
		} `json:"table"`
	}
	require.NoError(t, sonnet.Unmarshal([]byte(output), &out))
	require.Equal(t, 300, out.Table.Size)
	require.Positive(t, out.Host.NumCPU)

	infoStorage = "bogus"
	_, err = captureOutput(t, runInfo)
	require.Error(t, err)
}
