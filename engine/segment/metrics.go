package segment

import "github.com/selah-app/selah/pkg/metrics"

type engineMetrics struct {
	reg           *metrics.Registry
	oracleCalls   *metrics.Counter
	oracleErrors  *metrics.Counter
	passages      *metrics.Counter
	forcedFlushes *metrics.Counter
	activeBooks   *metrics.Gauge
	bookDuration  *metrics.Histogram
}

func newEngineMetrics(reg *metrics.Registry) engineMetrics {
	return engineMetrics{
		reg:           reg,
		oracleCalls:   reg.Counter("segment_oracle_calls_total", "Continuation oracle calls"),
		oracleErrors:  reg.Counter("segment_oracle_errors_total", "Failed continuation oracle calls"),
		passages:      reg.Counter("segment_passages_total", "Passages flushed"),
		forcedFlushes: reg.Counter("segment_forced_flushes_total", "Multi-verse passages flushed at chapter end"),
		activeBooks:   reg.Gauge("segment_active_books", "Books currently being segmented"),
		bookDuration:  reg.Histogram("segment_book_duration_seconds", "Wall time per book task", []float64{1, 10, 60, 300, 900, 1800, 3600, 7200}),
	}
}

func (m engineMetrics) books(s Status) *metrics.Counter {
	return m.reg.Counter("segment_books_total", "Book tasks by outcome", "status", string(s))
}
