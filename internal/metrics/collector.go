// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly instead of pulling in client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry used by the predefined metrics below.
var Default = NewRegistry()

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	start      time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		start:      time.Now(),
	}
}

type series struct {
	name   string
	help   string
	labels string
}

// Counter only goes up.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	series
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name, labels)
	if c, ok := r.counters[k]; ok {
		return c
	}
	c := &Counter{series: series{name, help, labels}}
	r.counters[k] = c
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name, labels)
	if g, ok := r.gauges[k]; ok {
		return g
	}
	g := &Gauge{series: series{name, help, labels}}
	r.gauges[k] = g
	return g
}

// Histogram returns the histogram for name and labels, creating it on first use.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name, labels)
	if h, ok := r.histograms[k]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{series: series{name, help, labels}, bounds: bounds, counts: make([]int64, len(bounds))}
	r.histograms[k] = h
	return h
}

// Handler renders the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// WriteTo writes every series to w, sorted by name for stable output.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP factbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE factbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "factbot_uptime_seconds %d\n", int64(time.Since(r.start).Seconds()))

	r.mu.Lock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.Unlock()

	seen := make(map[string]bool)
	for _, c := range counters {
		writeHeader(&sb, seen, c.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", c.ident(), c.Value())
	}
	for _, g := range gauges {
		writeHeader(&sb, seen, g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", g.ident(), g.Value())
	}
	for _, h := range histograms {
		writeHeader(&sb, seen, h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, labelPrefix(h.labels), bound, h.counts[i])
		}
		fmt.Fprintf(&sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, labelPrefix(h.labels), h.count)
		fmt.Fprintf(&sb, "%s_count%s %d\n", h.name, braces(h.labels), h.count)
		fmt.Fprintf(&sb, "%s_sum%s %f\n", h.name, braces(h.labels), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (s series) ident() string { return s.name + braces(s.labels) }

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func labelPrefix(labels string) string {
	if labels == "" {
		return ""
	}
	return labels + ","
}

func writeHeader(sb *strings.Builder, seen map[string]bool, s series, kind string) {
	if seen[s.name] {
		return
	}
	seen[s.name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n", s.name, s.help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", s.name, kind)
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// --- metrics used across factbot ---

var (
	WorkflowRuns       = Default.Counter("factbot_workflow_runs_total", "Workflow invocations", "")
	WorkflowFailures   = Default.Counter("factbot_workflow_failures_total", "Workflow invocations that did not deliver", "")
	AssessmentFailures = Default.Counter("factbot_assessment_failures_total", "Assessment calls that failed", "")
	ChunksSent         = Default.Counter("factbot_chunks_sent_total", "Chunks delivered to chats", "")
	ChunkFailures      = Default.Counter("factbot_chunk_failures_total", "Chunks rejected by the platform", "")
	IndicatorFailures  = Default.Counter("factbot_indicator_delete_failures_total", "Processing indicators that could not be deleted", "")
	DuplicateUpdates   = Default.Counter("factbot_duplicate_updates_total", "Webhook updates dropped as duplicates", "")
	QueueDrops         = Default.Counter("factbot_queue_drops_total", "Requests dropped because the queue stayed full", "")
	InFlight           = Default.Gauge("factbot_workflows_in_flight", "Workflow invocations currently running", "")

	AssessmentLatency = Default.Histogram("factbot_assessment_latency_seconds", "Assessment latency in seconds", "",
		[]float64{1, 2, 5, 10, 20, 30, 60, 120})
)
