package bench

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Snawoot/lfmap"
	"github.com/alphadose/haxmap"
	"github.com/cockroachdb/swiss"
	fcmap "github.com/fufuok/cmap"
	"github.com/llxisdsh/pb"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
	orcaman_map "github.com/orcaman/concurrent-map/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zhangyunhao116/skipmap"

	"github.com/llxisdsh/clht"
)

// Map is the subset of map operations the workloads use. Implementations
// must be safe for concurrent use.
type Map interface {
	Insert(key []byte, value uintptr) error
	Lookup(key []byte) (uintptr, bool)
	Remove(key []byte) (bool, error)
	Close()
}

// Batcher is implemented by maps that run a whole partition of a workload
// in one call. LookupBatch reports absent keys as clht.NotFound.
type Batcher interface {
	InsertBatch(ctx context.Context, keys [][]byte, values []uintptr) error
	LookupBatch(ctx context.Context, keys [][]byte, results []uintptr) error
	RemoveBatch(ctx context.Context, keys [][]byte, results []bool) error
}

// Target is a named map implementation under test.
type Target struct {
	Name        string
	Description string
	New         func(capacity int) Map
}

var targets = []Target{
	clhtTarget("clht-arena", "clht, keys in a chunked arena", clht.WithStorage(clht.StorageArena)),
	clhtTarget("clht-inline", "clht, keys of up to 16 bytes inside the slot", clht.WithStorage(clht.StorageInline)),
	clhtTarget("clht-pooled", "clht, keys in one growable pool, 32-bit offsets", clht.WithStorage(clht.StoragePooled)),
	clhtTarget("clht-hybrid", "clht, short keys packed, long keys in the arena", clht.WithStorage(clht.StorageHybrid)),
	clhtTarget("clht-crc32", "clht-hybrid hashed with CRC32-C",
		clht.WithStorage(clht.StorageHybrid), clht.WithHasher(clht.HashCRC32)),
	clhtTarget("clht-xxhash", "clht-hybrid hashed with xxHash64",
		clht.WithStorage(clht.StorageHybrid), clht.WithHasher(clht.HashXX)),
	{
		Name:        "clht-batch",
		Description: "clht-hybrid driven through the parallel batch calls",
		New: func(capacity int) Map {
			return &clhtBatchMap{clhtMap{clht.NewTable(capacity, clht.WithStorage(clht.StorageHybrid))}}
		},
	},
	{
		Name:        "pb",
		Description: "llxisdsh/pb MapOf",
		New: func(capacity int) Map {
			return &pbMap{m: pb.NewMapOf[string, uintptr](pb.WithPresize(capacity))}
		},
	},
	{
		Name:        "xsync",
		Description: "puzpuzpuz/xsync Map",
		New: func(capacity int) Map {
			return &xsyncMap{m: xsync.NewMap[string, uintptr](xsync.WithPresize(capacity))}
		},
	},
	{
		Name:        "haxmap",
		Description: "alphadose/haxmap",
		New: func(capacity int) Map {
			return &haxMap{m: haxmap.New[string, uintptr](uintptr(max(capacity, 1)))}
		},
	},
	{
		Name:        "skipmap",
		Description: "zhangyunhao116/skipmap ordered skip list",
		New: func(int) Map {
			return &skipMap{m: skipmap.New[string, uintptr]()}
		},
	},
	{
		Name:        "orcaman-cmap",
		Description: "orcaman/concurrent-map, 32 locked shards",
		New: func(int) Map {
			return &orcamanMap{m: orcaman_map.New[uintptr]()}
		},
	},
	{
		Name:        "fufuok-cmap",
		Description: "fufuok/cmap sharded map",
		New: func(int) Map {
			return &fufuokMap{m: fcmap.NewOf[string, uintptr]()}
		},
	},
	{
		Name:        "csmap",
		Description: "mhmtszr/concurrent-swiss-map, 32 shards",
		New: func(int) Map {
			return &csMap{m: csmap.New(csmap.WithShardCount[string, uintptr](32))}
		},
	},
	{
		Name:        "lfmap",
		Description: "Snawoot/lfmap copy-on-write map",
		New: func(int) Map {
			return &lfMap{m: lfmap.New[string, uintptr]()}
		},
	},
	{
		Name:        "swiss-mutex",
		Description: "cockroachdb/swiss behind a sync.RWMutex",
		New: func(capacity int) Map {
			return &swissMap{m: swiss.New[string, uintptr](capacity)}
		},
	},
	{
		Name:        "sync.Map",
		Description: "standard library sync.Map",
		New: func(int) Map {
			return &syncMap{}
		},
	},
}

func clhtTarget(name, description string, options ...func(*clht.Config)) Target {
	return Target{
		Name:        name,
		Description: description,
		New: func(capacity int) Map {
			return &clhtMap{clht.NewTable(capacity, options...)}
		},
	}
}

// Targets returns all known targets.
func Targets() []Target {
	return slices.Clone(targets)
}

// LookupTarget returns the target called name.
func LookupTarget(name string) (Target, error) {
	for _, t := range targets {
		if t.Name == name {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("bench: unknown target %q (known: %s)", name, strings.Join(TargetNames(), ", "))
}

// TargetNames returns the names of all targets.
func TargetNames() []string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	return names
}

// SelectTargets resolves a list of target names. "all" selects every
// target, "clht" every clht variant.
func SelectTargets(names []string) ([]Target, error) {
	var selected []Target
	add := func(t Target) {
		if !slices.ContainsFunc(selected, func(s Target) bool { return s.Name == t.Name }) {
			selected = append(selected, t)
		}
	}
	for _, name := range names {
		switch name {
		case "all":
			for _, t := range targets {
				add(t)
			}
		case "clht":
			for _, t := range targets {
				if strings.HasPrefix(t.Name, "clht-") {
					add(t)
				}
			}
		default:
			t, err := LookupTarget(name)
			if err != nil {
				return nil, err
			}
			add(t)
		}
	}
	return selected, nil
}

// ============================================================================
// clht
// ============================================================================

type clhtMap struct {
	t *clht.Table
}

func (m *clhtMap) Insert(key []byte, value uintptr) error { return m.t.Insert(key, value) }
func (m *clhtMap) Lookup(key []byte) (uintptr, bool)      { return m.t.Get(key) }
func (m *clhtMap) Remove(key []byte) (bool, error)        { return m.t.Remove(key) }
func (m *clhtMap) Close()                                 { m.t.Close() }

// Stats exposes the table statistics for reports.
func (m *clhtMap) Stats() clht.Stats { return m.t.Stats() }

type clhtBatchMap struct {
	clhtMap
}

func (m *clhtBatchMap) InsertBatch(ctx context.Context, keys [][]byte, values []uintptr) error {
	return m.t.InsertBatch(ctx, keys, values)
}

func (m *clhtBatchMap) LookupBatch(ctx context.Context, keys [][]byte, results []uintptr) error {
	return m.t.LookupBatch(ctx, keys, results)
}

func (m *clhtBatchMap) RemoveBatch(ctx context.Context, keys [][]byte, results []bool) error {
	return m.t.RemoveBatch(ctx, keys, results)
}

// ============================================================================
// Third-party maps
// ============================================================================

// The adapters convert keys to strings; every one of them pays that
// allocation on insert, lookups convert without allocating where the
// compiler allows it.

type pbMap struct {
	m *pb.MapOf[string, uintptr]
}

func (m *pbMap) Insert(key []byte, value uintptr) error {
	m.m.Store(string(key), value)
	return nil
}

func (m *pbMap) Lookup(key []byte) (uintptr, bool) { return m.m.Load(string(key)) }

func (m *pbMap) Remove(key []byte) (bool, error) {
	_, ok := m.m.LoadAndDelete(string(key))
	return ok, nil
}

func (m *pbMap) Close() { m.m.Clear() }

type xsyncMap struct {
	m *xsync.Map[string, uintptr]
}

func (m *xsyncMap) Insert(key []byte, value uintptr) error {
	m.m.Store(string(key), value)
	return nil
}

func (m *xsyncMap) Lookup(key []byte) (uintptr, bool) { return m.m.Load(string(key)) }

func (m *xsyncMap) Remove(key []byte) (bool, error) {
	_, ok := m.m.LoadAndDelete(string(key))
	return ok, nil
}

func (m *xsyncMap) Close() { m.m.Clear() }

type haxMap struct {
	m *haxmap.Map[string, uintptr]
}

func (m *haxMap) Insert(key []byte, value uintptr) error {
	m.m.Set(string(key), value)
	return nil
}

func (m *haxMap) Lookup(key []byte) (uintptr, bool) { return m.m.Get(string(key)) }

func (m *haxMap) Remove(key []byte) (bool, error) {
	k := string(key)
	if _, ok := m.m.Get(k); !ok {
		return false, nil
	}
	m.m.Del(k)
	return true, nil
}

func (m *haxMap) Close() {}

type skipMap struct {
	m *skipmap.OrderedMap[string, uintptr]
}

func (m *skipMap) Insert(key []byte, value uintptr) error {
	m.m.Store(string(key), value)
	return nil
}

func (m *skipMap) Lookup(key []byte) (uintptr, bool) { return m.m.Load(string(key)) }

func (m *skipMap) Remove(key []byte) (bool, error) {
	_, ok := m.m.LoadAndDelete(string(key))
	return ok, nil
}

func (m *skipMap) Close() {}

type orcamanMap struct {
	m orcaman_map.ConcurrentMap[string, uintptr]
}

func (m *orcamanMap) Insert(key []byte, value uintptr) error {
	m.m.Set(string(key), value)
	return nil
}

func (m *orcamanMap) Lookup(key []byte) (uintptr, bool) { return m.m.Get(string(key)) }

func (m *orcamanMap) Remove(key []byte) (bool, error) {
	_, ok := m.m.Pop(string(key))
	return ok, nil
}

func (m *orcamanMap) Close() { m.m.Clear() }

type fufuokMap struct {
	m *fcmap.MapOf[string, uintptr]
}

func (m *fufuokMap) Insert(key []byte, value uintptr) error {
	m.m.Set(string(key), value)
	return nil
}

func (m *fufuokMap) Lookup(key []byte) (uintptr, bool) { return m.m.Get(string(key)) }

func (m *fufuokMap) Remove(key []byte) (bool, error) {
	k := string(key)
	if _, ok := m.m.Get(k); !ok {
		return false, nil
	}
	m.m.Remove(k)
	return true, nil
}

func (m *fufuokMap) Close() {}

type csMap struct {
	m *csmap.CsMap[string, uintptr]
}

func (m *csMap) Insert(key []byte, value uintptr) error {
	m.m.Store(string(key), value)
	return nil
}

func (m *csMap) Lookup(key []byte) (uintptr, bool) { return m.m.Load(string(key)) }

func (m *csMap) Remove(key []byte) (bool, error) {
	k := string(key)
	if !m.m.Has(k) {
		return false, nil
	}
	m.m.Delete(k)
	return true, nil
}

func (m *csMap) Close() {}

type lfMap struct {
	m *lfmap.Map[string, uintptr]
}

func (m *lfMap) Insert(key []byte, value uintptr) error {
	m.m.Set(string(key), value)
	return nil
}

func (m *lfMap) Lookup(key []byte) (uintptr, bool) { return m.m.Get(string(key)) }

func (m *lfMap) Remove(key []byte) (bool, error) {
	k := string(key)
	if _, ok := m.m.Get(k); !ok {
		return false, nil
	}
	m.m.Delete(k)
	return true, nil
}

func (m *lfMap) Close() {}

// swissMap guards a single-threaded swiss table with a RWMutex, the way a
// plain Go map is usually shared.
type swissMap struct {
	mu sync.RWMutex
	m  *swiss.Map[string, uintptr]
}

func (m *swissMap) Insert(key []byte, value uintptr) error {
	m.mu.Lock()
	m.m.Put(string(key), value)
	m.mu.Unlock()
	return nil
}

func (m *swissMap) Lookup(key []byte) (uintptr, bool) {
	m.mu.RLock()
	v, ok := m.m.Get(string(key))
	m.mu.RUnlock()
	return v, ok
}

func (m *swissMap) Remove(key []byte) (bool, error) {
	k := string(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.m.Get(k); !ok {
		return false, nil
	}
	m.m.Delete(k)
	return true, nil
}

func (m *swissMap) Close() {
	m.mu.Lock()
	m.m.Close()
	m.mu.Unlock()
}

type syncMap struct {
	m sync.Map
}

func (m *syncMap) Insert(key []byte, value uintptr) error {
	m.m.Store(string(key), value)
	return nil
}

func (m *syncMap) Lookup(key []byte) (uintptr, bool) {
	v, ok := m.m.Load(string(key))
	if !ok {
		return 0, false
	}
	return v.(uintptr), true
}

func (m *syncMap) Remove(key []byte) (bool, error) {
	_, ok := m.m.LoadAndDelete(string(key))
	return ok, nil
}

func (m *syncMap) Close() { m.m.Clear() }
