// Package metrics is a small process-metrics registry rendered in the
// Prometheus text exposition format. Engine components count scout runs,
// dedup hits and review verdicts against a shared Registry; the daemon
// serves the result from its /metrics endpoint. Counters and gauges only,
// no push, no scrape client.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets suit run durations in seconds: plain fetches finish well
// under a second, LLM-heavy runs take minutes.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Counter only goes up.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge goes up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram tracks a value distribution over fixed buckets. Counts are
// per-bucket; Render accumulates them into the cumulative series
// Prometheus expects.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	return &Histogram{buckets: b, counts: make([]uint64, len(b))}
}

// Observe records v in the first bucket it fits. Values beyond the last
// bucket show up only in the +Inf series.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.buckets, v); i < len(h.counts) {
		h.counts[i]++
	}
	h.mu.Unlock()
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

func (h *Histogram) snapshot() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := append([]uint64(nil), h.counts...)
	return h.buckets, counts, h.sum, h.count
}

// Registry holds named metrics. Asking for a name that already exists
// returns the existing metric, so call sites need no package-level metric
// variables.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	help       map[string]string
	types      map[string]string
	order      []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		help:       make(map[string]string),
		types:      make(map[string]string),
	}
}

// track records type, help and first-seen order for a base name.
func (r *Registry) track(base, typ, help string) {
	if _, seen := r.types[base]; !seen {
		r.order = append(r.order, base)
	}
	r.types[base] = typ
	if help != "" {
		r.help[base] = help
	}
}

// obtain returns the metric registered under name, creating it with mk on
// first use. It takes the registry lock; callers must not hold it.
func obtain[M any](r *Registry, m map[string]*M, name, typ, help string, mk func() *M) *M {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := m[name]; ok {
		return v
	}
	v := mk()
	m[name] = v
	r.track(baseName(name), typ, help)
	return v
}

// Counter returns the counter registered under name, creating it on first
// use. Labelled series share one base name: bake labels in via WithLabels
// and every label combination is its own Counter.
func (r *Registry) Counter(name, help string) *Counter {
	return obtain(r, r.counters, name, "counter", help, func() *Counter { return new(Counter) })
}

// Gauge returns the gauge registered under name, creating it on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	return obtain(r, r.gauges, name, "gauge", help, func() *Gauge { return new(Gauge) })
}

// Histogram returns the histogram registered under name, creating it on
// first use. Nil buckets get DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return obtain(r, r.histograms, name, "histogram", help, func() *Histogram { return newHistogram(buckets) })
}

// WithLabels appends label pairs to a metric name:
// WithLabels("scoutd_runs_total", "scout", "go-news") is
// `scoutd_runs_total{scout="go-news"}`. An odd pair count returns the name
// unlabelled.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+kvs[i+1]+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// baseName strips the label block from a metric name.
func baseName(name string) string {
	base, _, _ := strings.Cut(name, "{")
	return base
}

// CollectRuntime samples Go runtime stats into gauges every interval, for
// the life of the process: <prefix>_goroutines, <prefix>_heap_alloc_bytes
// and <prefix>_uptime_seconds.
func (r *Registry) CollectRuntime(prefix string, every time.Duration) {
	started := time.Now()
	goroutines := r.Gauge(prefix+"_goroutines", "Live goroutines.")
	heap := r.Gauge(prefix+"_heap_alloc_bytes", "Bytes of allocated heap objects.")
	uptime := r.Gauge(prefix+"_uptime_seconds", "Seconds since process start.")

	go func() {
		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			goroutines.Set(int64(runtime.NumGoroutine()))
			heap.Set(int64(ms.HeapAlloc))
			uptime.Set(int64(time.Since(started).Seconds()))
			<-tick.C
		}
	}()
}

// Render writes every metric in the Prometheus text exposition format:
// HELP and TYPE once per base name, series sorted within it.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, base := range r.order {
		typ := r.types[base]
		if h, ok := r.help[base]; ok {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, h)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, typ)

		switch typ {
		case "counter":
			for _, n := range seriesOf(r.counters, base) {
				fmt.Fprintf(&b, "%s %d\n", n, r.counters[n].Value())
			}
		case "gauge":
			for _, n := range seriesOf(r.gauges, base) {
				fmt.Fprintf(&b, "%s %d\n", n, r.gauges[n].Value())
			}
		case "histogram":
			for _, n := range seriesOf(r.histograms, base) {
				buckets, counts, sum, count := r.histograms[n].snapshot()
				labels := innerLabels(n)
				cumulative := uint64(0)
				for i, bk := range buckets {
					cumulative += counts[i]
					fmt.Fprintf(&b, "%s_bucket{le=\"%g\"%s} %d\n", base, bk, labels, cumulative)
				}
				fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, labels, count)
				fmt.Fprintf(&b, "%s_sum%s %g\n", base, wrapLabels(labels), sum)
				fmt.Fprintf(&b, "%s_count%s %d\n", base, wrapLabels(labels), count)
			}
		}
	}
	return b.String()
}

// seriesOf lists the registered names sharing a base name, sorted.
func seriesOf[M any](m map[string]*M, base string) []string {
	var out []string
	for n := range m {
		if baseName(n) == base {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// innerLabels returns the label portion of `foo{k="v"}` as `,k="v"`, ready
// to splice after a histogram's le label.
func innerLabels(name string) string {
	_, rest, found := strings.Cut(name, "{")
	if !found {
		return ""
	}
	inner := strings.TrimSuffix(rest, "}")
	if inner == "" {
		return ""
	}
	return "," + inner
}

// wrapLabels turns `,k="v"` back into `{k="v"}`, or stays empty.
func wrapLabels(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + strings.TrimPrefix(labels, ",") + "}"
}

// Handler serves the rendered registry; the daemon mounts it at /metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		io.WriteString(w, r.Render())
	})
}
