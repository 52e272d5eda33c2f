package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/llm"
	"github.com/selah-app/selah/pkg/metrics"
	"github.com/selah-app/selah/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

const judgePrompt = `You are a Bible Verse Relevance Judge. You are given a prayer and a candidate Bible passage retrieved for it. Decide whether the passage speaks directly to the needs, emotions, or requests expressed in the prayer.

Judge the passage as relevant only if a person praying this prayer would find it meaningful, comforting, or instructive for their situation. Passages that merely share vocabulary with the prayer, or that concern an unrelated subject, are not relevant.

Respond with a JSON object {"relevant": true} or {"relevant": false}.`

const encouragementInstruction = `

When the passage is relevant, also include an "encouragement" key: one or two warm sentences, addressed to the person praying, on how this passage speaks to their prayer.`

func judgeUserPrompt(prayer string, c domain.Candidate) string {
	return fmt.Sprintf("Prayer: %s\n\nPassage (%s): %s", prayer, c.Passage.Reference(), c.Passage.Text)
}

type judgment struct {
	Relevant      *bool  `json:"relevant"`
	Encouragement string `json:"encouragement"`
}

// FilterOpts tunes a RelevanceFilter. Zero values select the defaults.
type FilterOpts struct {
	// Concurrency bounds the judgments in flight per request (default 4).
	Concurrency int
	// Timeout bounds each judgment call (default 30s).
	Timeout time.Duration
	// Encouragement asks the model for an encouragement string.
	Encouragement bool
	// CacheSize is the LRU capacity for verdicts. Zero disables caching.
	CacheSize int
	Breaker   *resilience.Breaker
	Metrics   *metrics.Registry
}

// RelevanceFilter asks the model, per candidate, whether it is relevant to
// the prayer. Judgments fan out with bounded concurrency; the first failure
// cancels the rest and fails the request.
type RelevanceFilter struct {
	llm   llm.Completer
	opts  FilterOpts
	cache *judgmentCache

	calls  *metrics.Counter
	hits   *metrics.Counter
	kept   *metrics.Counter
	failed *metrics.Counter
	dur    *metrics.Histogram
}

// NewRelevanceFilter creates a RelevanceFilter.
func NewRelevanceFilter(c llm.Completer, opts FilterOpts) *RelevanceFilter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	reg := opts.Metrics
	return &RelevanceFilter{
		llm:    c,
		opts:   opts,
		cache:  newJudgmentCache(opts.CacheSize),
		calls:  reg.Counter("judge_calls_total", "Relevance judgment model calls"),
		hits:   reg.Counter("judge_cache_hits_total", "Relevance verdicts served from cache"),
		kept:   reg.Counter("judge_relevant_total", "Candidates judged relevant"),
		failed: reg.Counter("judge_errors_total", "Failed relevance judgments"),
		dur:    reg.Histogram("judge_duration_seconds", "Relevance judgment latency", nil),
	}
}

// Filter returns the candidates judged relevant, in candidate order.
func (f *RelevanceFilter) Filter(ctx context.Context, prayer string, candidates []domain.Candidate) ([]domain.Judgment, error) {
	verdicts := make([]verdict, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			v, err := f.judge(gctx, prayer, c)
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.Judgment
	for i, v := range verdicts {
		if v.Relevant {
			out = append(out, domain.Judgment{Candidate: candidates[i], Encouragement: v.Encouragement})
		}
	}
	f.kept.Add(int64(len(out)))
	return out, nil
}

func (f *RelevanceFilter) judge(ctx context.Context, prayer string, c domain.Candidate) (verdict, error) {
	if err := ctx.Err(); err != nil {
		return verdict{}, err
	}
	key := judgmentKey(prayer, c.Passage)
	if v, ok := f.cache.get(key); ok {
		f.hits.Inc()
		return v, nil
	}

	system := judgePrompt
	if f.opts.Encouragement {
		system += encouragementInstruction
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	var reply judgment
	start := time.Now()
	f.calls.Inc()
	err := callThrough(ctx, f.opts.Breaker, func(ctx context.Context) error {
		var err error
		reply, err = llm.Invoke[judgment](ctx, f.llm, system, judgeUserPrompt(prayer, c))
		return err
	})
	f.dur.Since(start)
	if err == nil && reply.Relevant == nil {
		err = errors.New("reply missing relevant")
	}
	if err != nil {
		f.failed.Inc()
		return verdict{}, domain.NewOracleError("judge "+c.Passage.Reference(), err)
	}

	v := verdict{Relevant: *reply.Relevant}
	if v.Relevant && f.opts.Encouragement {
		v.Encouragement = reply.Encouragement
	}
	f.cache.set(key, v)
	return v, nil
}
