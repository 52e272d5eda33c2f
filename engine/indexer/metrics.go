package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/selah-app/selah/pkg/fn"
	"github.com/selah-app/selah/pkg/metrics"
)

type pipelineMetrics struct {
	reg       *metrics.Registry
	documents *metrics.Counter
	batches   *metrics.Counter
	errors    *metrics.Counter
}

func newPipelineMetrics(reg *metrics.Registry) *pipelineMetrics {
	return &pipelineMetrics{
		reg:       reg,
		documents: reg.Counter("index_documents_total", "Documents written to the vector index"),
		batches:   reg.Counter("index_batches_total", "AddDocuments calls"),
		errors:    reg.Counter("index_errors_total", "Failed AddDocuments calls"),
	}
}

// observer logs every stage run and records its latency by stage.
func (m *pipelineMetrics) observer(log *slog.Logger) fn.Observer {
	return func(_ context.Context, stage string, took time.Duration, err error) {
		m.reg.Histogram("index_stage_duration_seconds", "Indexing stage latency", nil, "stage", stage).Observe(took.Seconds())
		if err != nil {
			log.Debug("indexer: stage failed", "stage", stage, "duration", took, "err", err)
			return
		}
		log.Debug("indexer: stage done", "stage", stage, "duration", took)
	}
}
