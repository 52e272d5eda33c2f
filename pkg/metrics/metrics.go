// Package metrics is a small Prometheus-compatible registry. Metrics are
// fetched get-or-create by name and label pairs, grouped into families, and
// rendered in the text exposition format. A registry built WithNamespace
// prefixes every family name, so packages register short names such as
// "segment_passages_total" and the process decides the namespace.
package metrics

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets covers model and index call latencies, in seconds.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(n int64)  { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge holds a value that can go up and down.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.n.Store(n) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // counts[i]: observations in (bounds[i-1], bounds[i]]
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i, _ := slices.BinarySearch(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(b *strings.Builder, name, labels string) {
	h.mu.Lock()
	counts := slices.Clone(h.counts)
	sum, count := h.sum, h.count
	h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	var cumulative uint64
	for i, le := range h.bounds {
		cumulative += counts[i]
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, le, cumulative)
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braced(labels), sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, braced(labels), count)
}

// family is every series registered under one metric name.
type family struct {
	kind   kind
	help   string
	series map[string]any // rendered labels -> *Counter, *Gauge or *Histogram
}

// Registry holds metric families in registration order.
type Registry struct {
	namespace string

	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithNamespace prefixes every metric name with ns and an underscore.
func WithNamespace(ns string) Option {
	return func(r *Registry) { r.namespace = ns }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{families: make(map[string]*family)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Counter returns the counter for name and label pairs ("k1", "v1", ...),
// creating it on first use.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.series(name, help, kindCounter, labels, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name and label pairs, creating it on first use.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.series(name, help, kindGauge, labels, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and label pairs, creating it with
// bounds (DefaultBuckets when nil) on first use.
func (r *Registry) Histogram(name, help string, bounds []float64, labels ...string) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	return r.series(name, help, kindHistogram, labels, func() any { return newHistogram(bounds) }).(*Histogram)
}

// series looks up one labelled series. Reusing a name for a different kind
// of metric is a programming error and panics.
func (r *Registry) series(name, help string, k kind, labels []string, create func() any) any {
	if r.namespace != "" {
		name = r.namespace + "_" + name
	}
	key := renderLabels(labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{kind: k, series: make(map[string]any)}
		r.families[name] = f
		r.order = append(r.order, name)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s is a %s, not a %s", name, f.kind, k))
	}
	if f.help == "" {
		f.help = help
	}
	m, ok := f.series[key]
	if !ok {
		m = create()
		f.series[key] = m
	}
	return m
}

// renderLabels formats label pairs as k="v",... A trailing key without a
// value is ignored.
func renderLabels(kv []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kv[i])
		b.WriteString(`="`)
		b.WriteString(labelEscaper.Replace(kv[i+1]))
		b.WriteByte('"')
	}
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render returns every family in the Prometheus text exposition format.
// Families keep registration order; series within a family are sorted.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)
		for _, labels := range slices.Sorted(maps.Keys(f.series)) {
			switch m := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, braced(labels), m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", name, braced(labels), m.Value())
			case *Histogram:
				m.write(&b, name, labels)
			}
		}
	}
	return b.String()
}

// Handler serves Render.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// ServeAsync serves /metrics on port from a background goroutine and logs
// when the listener stops. A non-positive port disables it.
func (r *Registry) ServeAsync(port int) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", r.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("metrics: server stopped", "port", port, "err", err)
		}
	}()
}
