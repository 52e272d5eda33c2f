package metrics

import (
	"context"
	"runtime"
	"time"
)

// CollectRuntime samples the Go runtime into the gauges go_goroutines,
// go_heap_alloc_bytes and go_gc_cycles every interval (15s when zero) until
// ctx is done. The first sample is taken before it returns.
func (r *Registry) CollectRuntime(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	goroutines := r.Gauge("go_goroutines", "Live goroutines")
	heap := r.Gauge("go_heap_alloc_bytes", "Bytes of allocated heap objects")
	gcs := r.Gauge("go_gc_cycles", "Completed GC cycles")

	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(int64(runtime.NumGoroutine()))
		heap.Set(int64(ms.HeapAlloc))
		gcs.Set(int64(ms.NumGC))
	}
	sample()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sample()
			}
		}
	}()
}
