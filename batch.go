package clht

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Batches are split in halves until a part is small enough to run serially.
// Lookups are cheaper than writes, so their parts are larger.
const (
	writeBatchThreshold  = 32
	lookupBatchThreshold = 64
)

// splitRange halves [lo, hi) until each part holds at most threshold items.
func splitRange(lo, hi, threshold int, parts [][2]int) [][2]int {
	if hi-lo <= threshold {
		return append(parts, [2]int{lo, hi})
	}
	mid := lo + (hi-lo)/2
	parts = splitRange(lo, mid, threshold, parts)
	return splitRange(mid, hi, threshold, parts)
}

// runBatch runs leaf over the parts of [0, n) on at most GOMAXPROCS
// goroutines. The first error cancels the parts not yet started.
func runBatch(ctx context.Context, n, threshold int, leaf func(lo, hi int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, r := range splitRange(0, n, threshold, nil) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return leaf(r[0], r[1])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// InsertBatch inserts keys[i] with values[i] in parallel. Keys that occur
// more than once end up with one of their values.
//
// The first failing insert stops the batch and is returned; inserts that
// already completed stay in the table.
func (t *Table) InsertBatch(ctx context.Context, keys [][]byte, values []uintptr) error {
	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys, %d values", ErrBatchLength, len(keys), len(values))
	}
	return runBatch(ctx, len(keys), writeBatchThreshold, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if err := t.Insert(keys[i], values[i]); err != nil {
				return fmt.Errorf("clht: batch insert of key %d: %w", i, err)
			}
		}
		return nil
	})
}

// LookupBatch looks up keys in parallel, storing the value of keys[i], or
// NotFound, in results[i].
func (t *Table) LookupBatch(ctx context.Context, keys [][]byte, results []uintptr) error {
	if len(keys) != len(results) {
		return fmt.Errorf("%w: %d keys, %d results", ErrBatchLength, len(keys), len(results))
	}
	return runBatch(ctx, len(keys), lookupBatchThreshold, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			results[i] = t.Lookup(keys[i])
		}
		return nil
	})
}

// RemoveBatch removes keys in parallel, setting results[i] when keys[i] was
// present.
func (t *Table) RemoveBatch(ctx context.Context, keys [][]byte, results []bool) error {
	if len(keys) != len(results) {
		return fmt.Errorf("%w: %d keys, %d results", ErrBatchLength, len(keys), len(results))
	}
	return runBatch(ctx, len(keys), writeBatchThreshold, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			ok, err := t.Remove(keys[i])
			if err != nil {
				return fmt.Errorf("clht: batch remove of key %d: %w", i, err)
			}
			results[i] = ok
		}
		return nil
	})
}

// MixedBatch inserts the first insertRatio share of keys with their values,
// then looks up the rest. results[i] is values[i] for inserted keys and the
// lookup result for the others. insertRatio is clamped to [0, 1], NaN
// counts as 0.
func (t *Table) MixedBatch(
	ctx context.Context,
	keys [][]byte,
	values []uintptr,
	results []uintptr,
	insertRatio float64,
) error {
	if len(keys) != len(values) || len(keys) != len(results) {
		return fmt.Errorf("%w: %d keys, %d values, %d results",
			ErrBatchLength, len(keys), len(values), len(results))
	}
	if math.IsNaN(insertRatio) {
		insertRatio = 0
	}
	insertRatio = min(max(insertRatio, 0), 1)
	split := int(float64(len(keys)) * insertRatio)

	if err := t.InsertBatch(ctx, keys[:split], values[:split]); err != nil {
		return err
	}
	copy(results[:split], values[:split])
	return t.LookupBatch(ctx, keys[split:], results[split:])
}
