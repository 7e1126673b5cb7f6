package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/clht"
)

// Workload names one timed phase of a run.
type Workload string

const (
	WorkloadInsert     Workload = "insert"
	WorkloadLookupHit  Workload = "lookup-hit"
	WorkloadLookupMiss Workload = "lookup-miss"
	WorkloadMixed      Workload = "mixed"
	WorkloadRemove     Workload = "remove"
)

// Workloads lists every workload in the order Run executes them.
var Workloads = []Workload{
	WorkloadInsert,
	WorkloadLookupHit,
	WorkloadLookupMiss,
	WorkloadMixed,
	WorkloadRemove,
}

// ParseWorkload checks that s names a workload.
func ParseWorkload(s string) (Workload, error) {
	w := Workload(s)
	if !slices.Contains(Workloads, w) {
		return "", fmt.Errorf("bench: unknown workload %q", s)
	}
	return w, nil
}

// ErrVerify is returned by Run when Config.Verify is set and a map returned
// a wrong answer.
var ErrVerify = errors.New("bench: verification failed")

// Config controls a run.
type Config struct {
	Keys KeySpec `json:"keys"`
	// Threads is the number of goroutines per workload; zero means
	// GOMAXPROCS.
	Threads int `json:"threads"`
	// Capacity is passed to the map constructor; zero means Keys.Count.
	Capacity int `json:"capacity"`
	// InsertRatio is the share of inserts in the mixed workload.
	InsertRatio float64    `json:"insert_ratio"`
	Workloads   []Workload `json:"workloads"`
	// Verify makes wrong lookup and remove answers fail the run.
	Verify bool `json:"verify"`
}

// DefaultConfig returns the configuration of a plain run.
func DefaultConfig() Config {
	return Config{
		Keys:        KeySpec{Count: 100_000, MinLen: 8, MaxLen: 32, Seed: 1},
		InsertRatio: 0.2,
		Workloads:   slices.Clone(Workloads),
		Verify:      true,
	}
}

func (c Config) threads() int {
	if c.Threads > 0 {
		return c.Threads
	}
	return runtime.GOMAXPROCS(0)
}

func (c Config) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return c.Keys.Count
}

// Result is the outcome of one workload against one target.
type Result struct {
	Target    string        `json:"target"`
	Workload  Workload      `json:"workload"`
	Threads   int           `json:"threads"`
	Ops       int           `json:"ops"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	NsPerOp   float64       `json:"ns_per_op"`
	OpsPerSec float64       `json:"ops_per_sec"`
	// Hits counts lookups that found their key and removes that removed it.
	Hits int64 `json:"hits"`
	// Wrong counts answers that contradict the workload: misses on hit
	// keys, hits on miss keys, wrong values.
	Wrong int64 `json:"wrong"`
	// Errors counts failed inserts and removes.
	Errors int64 `json:"errors"`
	// Table describes the clht table after the insert workload.
	Table *TableInfo `json:"table,omitempty"`
}

// TableInfo summarizes the layout of a clht table.
type TableInfo struct {
	Storage         string `json:"storage"`
	Hasher          string `json:"hasher"`
	HomeBuckets     int    `json:"home_buckets"`
	OverflowBuckets int    `json:"overflow_buckets"`
	MaxChainLen     int    `json:"max_chain_len"`
	KeyBytes        int64  `json:"key_bytes"`
}

func tableInfo(m Map) *TableInfo {
	sm, ok := m.(interface{ Stats() clht.Stats })
	if !ok {
		return nil
	}
	st := sm.Stats()
	return &TableInfo{
		Storage:         st.Storage.String(),
		Hasher:          st.Hasher,
		HomeBuckets:     st.HomeBuckets,
		OverflowBuckets: st.OverflowBuckets,
		MaxChainLen:     st.MaxChainLen,
		KeyBytes:        st.Keys.Used,
	}
}

func newResult(target string, w Workload, threads, ops int, elapsed time.Duration) Result {
	r := Result{Target: target, Workload: w, Threads: threads, Ops: ops, Elapsed: elapsed}
	if ops > 0 && elapsed > 0 {
		r.NsPerOp = float64(elapsed.Nanoseconds()) / float64(ops)
		r.OpsPerSec = float64(ops) / elapsed.Seconds()
	}
	return r
}

// counters accumulate per-goroutine tallies into a Result.
type counters struct {
	hits, wrong, errs atomic.Int64
}

func (c *counters) add(hits, wrong, errs int64) {
	c.hits.Add(hits)
	c.wrong.Add(wrong)
	c.errs.Add(errs)
}

// Runner runs workloads, sharing generated keys between runs.
type Runner struct {
	keys KeyCache
}

// Run executes cfg.Workloads against a fresh map of target, in the order of
// Workloads. Lookup, mixed and remove workloads need the keys inserted; if
// insert is not selected they are inserted untimed first.
func (r *Runner) Run(ctx context.Context, target Target, cfg Config) ([]Result, error) {
	keys, _, err := r.keys.Get(cfg.Keys)
	if err != nil {
		return nil, err
	}
	missSpec := cfg.Keys
	missSpec.Miss = true
	misses, _, err := r.keys.Get(missSpec)
	if err != nil {
		return nil, err
	}

	m := target.New(cfg.capacity())
	defer m.Close()

	threads := cfg.threads()
	parts := partition(len(keys), threads)
	values := make([]uintptr, len(keys))
	for i := range values {
		values[i] = uintptr(i)
	}

	var results []Result
	inserted := false
	for _, w := range Workloads {
		if !slices.Contains(cfg.Workloads, w) {
			continue
		}
		if w != WorkloadInsert && !inserted {
			var preload counters
			if _, err := runPhase(ctx, parts, func(lo, hi int) error {
				return insertRange(ctx, m, keys[lo:hi], values[lo:hi], &preload)
			}); err != nil {
				return results, err
			}
			inserted = true
		}

		var c counters
		var phase func(lo, hi int, c *counters) error
		switch w {
		case WorkloadInsert:
			phase = func(lo, hi int, c *counters) error {
				return insertRange(ctx, m, keys[lo:hi], values[lo:hi], c)
			}
		case WorkloadLookupHit:
			phase = func(lo, hi int, c *counters) error {
				return lookupRange(ctx, m, keys[lo:hi], values[lo:hi], c)
			}
		case WorkloadLookupMiss:
			phase = func(lo, hi int, c *counters) error {
				return lookupRange(ctx, m, misses[lo:hi], nil, c)
			}
		case WorkloadMixed:
			phase = func(lo, hi int, c *counters) error {
				return mixedRange(ctx, m, keys[lo:hi], values[lo:hi], cfg.InsertRatio, c)
			}
		case WorkloadRemove:
			phase = func(lo, hi int, c *counters) error {
				return removeRange(ctx, m, keys[lo:hi], c)
			}
		}
		elapsed, err := runPhase(ctx, parts, func(lo, hi int) error {
			return phase(lo, hi, &c)
		})
		if err != nil {
			return results, fmt.Errorf("bench: %s %s: %w", target.Name, w, err)
		}
		res := newResult(target.Name, w, threads, len(keys), elapsed)
		res.Hits, res.Wrong, res.Errors = c.hits.Load(), c.wrong.Load(), c.errs.Load()
		if w == WorkloadInsert {
			inserted = true
			res.Table = tableInfo(m)
		}
		results = append(results, res)
		if cfg.Verify && (res.Wrong > 0 || res.Errors > 0) {
			return results, fmt.Errorf("%w: %s %s: %d wrong answers, %d errors",
				ErrVerify, target.Name, w, res.Wrong, res.Errors)
		}
	}
	return results, nil
}

// runPhase runs fn over every partition on its own goroutine and returns
// the wall time until the last one finished.
func runPhase(ctx context.Context, parts [][2]int, fn func(lo, hi int) error) (time.Duration, error) {
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for _, p := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(p[0], p[1])
		})
	}
	err := g.Wait()
	return time.Since(start), err
}

func insertRange(ctx context.Context, m Map, keys [][]byte, values []uintptr, c *counters) error {
	if b, ok := m.(Batcher); ok {
		if err := b.InsertBatch(ctx, keys, values); err != nil {
			c.add(0, 0, 1)
		}
		return nil
	}
	var errs int64
	for i, key := range keys {
		if err := m.Insert(key, values[i]); err != nil {
			errs++
		}
	}
	c.add(0, 0, errs)
	return nil
}

// lookupRange looks keys up. With want == nil every key must be absent,
// otherwise keys[i] must map to want[i].
func lookupRange(ctx context.Context, m Map, keys [][]byte, want []uintptr, c *counters) error {
	var hits, wrong int64
	if b, ok := m.(Batcher); ok {
		got := make([]uintptr, len(keys))
		if err := b.LookupBatch(ctx, keys, got); err != nil {
			return err
		}
		for i, v := range got {
			if v == clht.NotFound {
				if want != nil {
					wrong++
				}
				continue
			}
			hits++
			if want == nil || v != want[i] {
				wrong++
			}
		}
		c.add(hits, wrong, 0)
		return nil
	}
	for i, key := range keys {
		v, ok := m.Lookup(key)
		switch {
		case !ok:
			if want != nil {
				wrong++
			}
		case want == nil || v != want[i]:
			hits++
			wrong++
		default:
			hits++
		}
	}
	c.add(hits, wrong, 0)
	return nil
}

// mixedRange re-inserts the first ratio share of keys and looks up the
// rest. All keys are present beforehand, so every lookup must hit.
func mixedRange(ctx context.Context, m Map, keys [][]byte, values []uintptr, ratio float64, c *counters) error {
	if math.IsNaN(ratio) {
		ratio = 0
	}
	split := int(float64(len(keys)) * min(max(ratio, 0), 1))
	if err := insertRange(ctx, m, keys[:split], values[:split], c); err != nil {
		return err
	}
	return lookupRange(ctx, m, keys[split:], values[split:], c)
}

func removeRange(ctx context.Context, m Map, keys [][]byte, c *counters) error {
	var hits, wrong, errs int64
	if b, ok := m.(Batcher); ok {
		removed := make([]bool, len(keys))
		if err := b.RemoveBatch(ctx, keys, removed); err != nil {
			c.add(0, 0, 1)
			return nil
		}
		for _, ok := range removed {
			if ok {
				hits++
			} else {
				wrong++
			}
		}
		c.add(hits, wrong, 0)
		return nil
	}
	for _, key := range keys {
		ok, err := m.Remove(key)
		switch {
		case err != nil:
			errs++
		case ok:
			hits++
		default:
			wrong++
		}
	}
	c.add(hits, wrong, errs)
	return nil
}
