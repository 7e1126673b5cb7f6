package bench

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/sys/cpu"

	"github.com/llxisdsh/clht/internal/opt"
)

// HostInfo describes the machine a report was produced on.
type HostInfo struct {
	Hostname   string `json:"hostname"`
	GOOS       string `json:"goos"`
	GOARCH     string `json:"goarch"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
	GOMAXPROCS int    `json:"gomaxprocs"`
	CacheLine  int    `json:"cache_line"`
	// CRC32 reports hardware CRC32-C, which makes clht.HashCRC32 fast.
	CRC32 bool `json:"crc32"`
	AVX2  bool `json:"avx2"`
	Race  bool `json:"race"`
}

// CollectHost returns HostInfo for the running process.
func CollectHost() HostInfo {
	host, _ := os.Hostname()
	return HostInfo{
		Hostname:   host,
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		CacheLine:  int(opt.CacheLineSize_),
		CRC32:      cpu.X86.HasSSE42 || cpu.ARM64.HasCRC32,
		AVX2:       cpu.X86.HasAVX2,
		Race:       opt.Race_,
	}
}

// Report is the outcome of one clhtbench invocation.
type Report struct {
	ID      int64     `json:"id,omitempty"`
	Started time.Time `json:"started"`
	Host    HostInfo  `json:"host"`
	Config  Config    `json:"config"`
	Results []Result  `json:"results"`
}

// NewReport starts a report for cfg.
func NewReport(cfg Config) *Report {
	return &Report{Started: time.Now().UTC(), Host: CollectHost(), Config: cfg}
}

// Targets returns the names of the reported targets in first-seen order.
func (r *Report) Targets() []string {
	var names []string
	for _, res := range r.Results {
		if !slices.Contains(names, res.Target) {
			names = append(names, res.Target)
		}
	}
	return names
}

// Best returns, per workload, the result with the highest throughput.
func (r *Report) Best() map[Workload]Result {
	best := make(map[Workload]Result)
	for _, res := range r.Results {
		if cur, ok := best[res.Workload]; !ok || res.OpsPerSec > cur.OpsPerSec {
			best[res.Workload] = res
		}
	}
	return best
}

// WriteJSON writes r as a single JSON document followed by a newline.
func (r *Report) WriteJSON(w io.Writer) error {
	b, err := sonnet.Marshal(r)
	if err != nil {
		return fmt.Errorf("bench: encode report: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// ParseReport decodes a report written by WriteJSON.
func ParseReport(b []byte) (*Report, error) {
	var r Report
	if err := sonnet.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("bench: decode report: %w", err)
	}
	return &r, nil
}

// WriteText writes r as aligned columns, one row per result. The relative
// column compares each result with the fastest target of its workload.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "keys=%d len=[%d,%d] seed=%d threads=%d go=%s %s/%s cpus=%d\n\n",
		r.Config.Keys.Count, r.Config.Keys.MinLen, r.Config.Keys.MaxLen, r.Config.Keys.Seed,
		r.Config.threads(), r.Host.GoVersion, r.Host.GOOS, r.Host.GOARCH, r.Host.NumCPU)

	best := r.Best()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "target\tworkload\tns/op\tMops/s\trelative\thits\twrong\t")
	for _, res := range r.Results {
		rel := 0.0
		if b := best[res.Workload].OpsPerSec; b > 0 {
			rel = res.OpsPerSec / b
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.2f\t%.2fx\t%d\t%d\t\n",
			res.Target, res.Workload, res.NsPerOp, res.OpsPerSec/1e6, rel, res.Hits, res.Wrong)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, res := range r.Results {
		if res.Table == nil {
			continue
		}
		t := res.Table
		fmt.Fprintf(w, "\n%s: storage=%s hasher=%s home=%d overflow=%d max-chain=%d key-bytes=%s",
			res.Target, t.Storage, t.Hasher, t.HomeBuckets, t.OverflowBuckets, t.MaxChainLen, FormatBytes(t.KeyBytes))
	}
	_, err := fmt.Fprintln(w)
	return err
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
