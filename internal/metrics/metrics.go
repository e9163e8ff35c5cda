// Package metrics exports analysis and table-update counters in the
// Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mehrguard/mehrguard/internal/engine"
)

// Collector is safe for concurrent use. A nil Collector ignores updates.
type Collector struct {
	startedAt time.Time

	analysesTotal atomic.Uint64
	analysisNanos atomic.Uint64
	latency       [len(latencyBuckets)]atomic.Uint64
	byVerdict     sync.Map // string -> *atomic.Uint64
	byFlag        sync.Map // string -> *atomic.Uint64

	batchesTotal  atomic.Uint64
	rejectedTotal atomic.Uint64

	updateChecks sync.Map // string -> *atomic.Uint64, keyed by terminal state
	tableSwaps   atomic.Uint64
	saveFailures atomic.Uint64
}

// latencyBuckets are histogram upper bounds in seconds.
var latencyBuckets = [...]float64{0.0001, 0.001, 0.01, 0.1}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// ObserveAssessment counts one analysis that took d.
func (c *Collector) ObserveAssessment(a engine.Assessment, d time.Duration) {
	if c == nil {
		return
	}
	c.analysesTotal.Add(1)
	if d > 0 {
		c.analysisNanos.Add(uint64(d))
	}
	for i, b := range latencyBuckets {
		if d.Seconds() <= b {
			c.latency[i].Add(1)
		}
	}
	inc(&c.byVerdict, string(a.Verdict))
	for _, f := range a.Flags {
		inc(&c.byFlag, string(f))
	}
}

// IncBatch counts one batch request.
func (c *Collector) IncBatch() {
	if c == nil {
		return
	}
	c.batchesTotal.Add(1)
}

// IncRejected counts a request refused before analysis.
func (c *Collector) IncRejected() {
	if c == nil {
		return
	}
	c.rejectedTotal.Add(1)
}

// IncUpdateCheck counts a finished update attempt by its final state.
func (c *Collector) IncUpdateCheck(state string) {
	if c == nil {
		return
	}
	inc(&c.updateChecks, state)
}

// IncTableSwap counts an activated table snapshot.
func (c *Collector) IncTableSwap() {
	if c == nil {
		return
	}
	c.tableSwaps.Add(1)
}

func inc(m *sync.Map, key string) {
	if key == "" {
		key = "unknown"
	}
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

type HandlerOptions struct {
	TablesVersion func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP mehrguard_up Whether the mehrguard server is running.\n")
		fmt.Fprint(w, "# TYPE mehrguard_up gauge\n")
		fmt.Fprint(w, "mehrguard_up 1\n")

		fmt.Fprint(w, "# HELP mehrguard_uptime_seconds Seconds since the collector started.\n")
		fmt.Fprint(w, "# TYPE mehrguard_uptime_seconds gauge\n")
		fmt.Fprintf(w, "mehrguard_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP mehrguard_analyses_total URLs analyzed.\n")
		fmt.Fprint(w, "# TYPE mehrguard_analyses_total counter\n")
		fmt.Fprintf(w, "mehrguard_analyses_total %d\n", c.analysesTotal.Load())

		fmt.Fprint(w, "# HELP mehrguard_analysis_duration_seconds Time spent analyzing one URL.\n")
		fmt.Fprint(w, "# TYPE mehrguard_analysis_duration_seconds histogram\n")
		for i, b := range latencyBuckets {
			fmt.Fprintf(w, "mehrguard_analysis_duration_seconds_bucket{le=\"%g\"} %d\n", b, c.latency[i].Load())
		}
		fmt.Fprintf(w, "mehrguard_analysis_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.analysesTotal.Load())
		fmt.Fprintf(w, "mehrguard_analysis_duration_seconds_sum %.6f\n", float64(c.analysisNanos.Load())/1e9)
		fmt.Fprintf(w, "mehrguard_analysis_duration_seconds_count %d\n", c.analysesTotal.Load())

		fmt.Fprint(w, "# HELP mehrguard_batches_total Batch requests served.\n")
		fmt.Fprint(w, "# TYPE mehrguard_batches_total counter\n")
		fmt.Fprintf(w, "mehrguard_batches_total %d\n", c.batchesTotal.Load())

		fmt.Fprint(w, "# HELP mehrguard_rejected_requests_total Requests refused before analysis.\n")
		fmt.Fprint(w, "# TYPE mehrguard_rejected_requests_total counter\n")
		fmt.Fprintf(w, "mehrguard_rejected_requests_total %d\n", c.rejectedTotal.Load())

		fmt.Fprint(w, "# HELP mehrguard_table_swaps_total Table snapshots activated.\n")
		fmt.Fprint(w, "# TYPE mehrguard_table_swaps_total counter\n")
		fmt.Fprintf(w, "mehrguard_table_swaps_total %d\n", c.tableSwaps.Load())

		fmt.Fprint(w, "# HELP mehrguard_manifest_save_failures_total Accepted manifests that could not be persisted.\n")
		fmt.Fprint(w, "# TYPE mehrguard_manifest_save_failures_total counter\n")
		fmt.Fprintf(w, "mehrguard_manifest_save_failures_total %d\n", c.saveFailures.Load())

		writeLabeled(w, &c.byVerdict, "mehrguard_verdicts_total", "verdict", "Analyses by verdict.")
		writeLabeled(w, &c.byFlag, "mehrguard_flags_total", "flag", "Fired reason codes.")
		writeLabeled(w, &c.updateChecks, "mehrguard_table_update_checks_total", "result", "Table update attempts by outcome.")

		if opts.TablesVersion != nil {
			fmt.Fprint(w, "# HELP mehrguard_tables_version Version of the active detection tables.\n")
			fmt.Fprint(w, "# TYPE mehrguard_tables_version gauge\n")
			fmt.Fprintf(w, "mehrguard_tables_version %d\n", opts.TablesVersion())
		}
	})
}

func writeLabeled(w io.Writer, m *sync.Map, name, label, help string) {
	keys := snapshotKeys(m)
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range keys {
		ptr, _ := m.Load(k)
		n := uint64(0)
		if ptr != nil {
			n = ptr.(*atomic.Uint64).Load()
		}
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, label, escapeLabelValue(k), n)
	}
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
