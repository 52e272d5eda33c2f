package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/engine/semantic"
	"github.com/selah-app/selah/pkg/metrics"
)

// Store persists recommendation sets. Saving a set is all-or-nothing and
// replaces any earlier set for the prayer.
type Store interface {
	SaveRecommendations(ctx context.Context, prayerID string, recs []domain.Recommendation) error
	ListRecommendations(ctx context.Context, prayerID string) ([]domain.Recommendation, error)
	DeleteRecommendations(ctx context.Context, prayerID string) (int, error)
}

// Mirror receives a copy of every saved set after the Store commits, such as
// the recommendation graph. Mirror failures are logged, not returned.
type Mirror interface {
	SaveRecommendations(ctx context.Context, prayerID string, recs []domain.Recommendation) error
	DeleteRecommendations(ctx context.Context, prayerID string) (int, error)
}

// SearchIndex is an open vector index handle.
type SearchIndex interface {
	Searcher
	Close() error
}

// Connector opens a SearchIndex for one request.
type Connector interface {
	Connect(ctx context.Context) (SearchIndex, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (SearchIndex, error)

func (f ConnectorFunc) Connect(ctx context.Context) (SearchIndex, error) { return f(ctx) }

// SemanticConnector adapts a *semantic.Connector.
func SemanticConnector(c *semantic.Connector) Connector {
	return ConnectorFunc(func(ctx context.Context) (SearchIndex, error) {
		ix, err := c.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return ix, nil
	})
}

// Deps wires a Service.
type Deps struct {
	Optimizer *QueryOptimizer
	Retriever *Retriever
	Filter    *RelevanceFilter
	Assembler *Assembler
	Index     Connector
	Store     Store
	Mirror    Mirror
	// RequestTimeout bounds one Generate call. Zero means no limit.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Registry
}

// Service runs the recommendation pipeline for one prayer at a time. It is
// safe for concurrent use.
type Service struct {
	deps Deps
	log  *slog.Logger
	reg  *metrics.Registry

	duration   *metrics.Histogram
	candidates *metrics.Counter
	produced   *metrics.Counter
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	if deps.Assembler == nil {
		deps.Assembler = NewAssembler()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	reg := deps.Metrics
	return &Service{
		deps:       deps,
		log:        deps.Logger,
		reg:        reg,
		duration:   reg.Histogram("recommend_duration_seconds", "End-to-end recommendation latency", nil),
		candidates: reg.Counter("recommend_candidates_total", "Candidates retrieved"),
		produced:   reg.Counter("recommend_recommendations_total", "Recommendations persisted"),
	}
}

// Generate produces, persists and returns the recommendations for prayer.
// On any failure nothing is persisted and no recommendations are returned.
func (s *Service) Generate(ctx context.Context, prayer domain.Prayer) ([]domain.Recommendation, error) {
	start := time.Now()
	recs, err := s.generate(ctx, prayer)
	s.duration.Since(start)
	s.reg.Counter("recommend_requests_total", "Recommendation requests by outcome", "outcome", Outcome(err)).Inc()

	log := s.log.With("prayer_id", prayer.ID, "duration", time.Since(start))
	if err != nil {
		log.Error("recommend: generate failed", "err", err, "outcome", Outcome(err))
		return nil, err
	}
	log.Info("recommend: generated", "recommendations", len(recs))
	return recs, nil
}

func (s *Service) generate(ctx context.Context, prayer domain.Prayer) ([]domain.Recommendation, error) {
	if err := domain.ValidatePrayer(prayer); err != nil {
		return nil, err
	}
	if s.deps.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.RequestTimeout)
		defer cancel()
	}

	q, candidates, err := s.search(ctx, prayer.Transcription)
	if err != nil {
		return nil, err
	}
	s.candidates.Add(int64(len(candidates)))
	s.log.Debug("recommend: candidates retrieved", "prayer_id", prayer.ID, "candidates", len(candidates), "query", q.SupportingDetails)

	kept, err := s.deps.Filter.Filter(ctx, prayer.Transcription, candidates)
	if err != nil {
		return nil, err
	}
	recs, err := s.deps.Assembler.Assemble(prayer.ID, q, kept)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.SaveRecommendations(ctx, prayer.ID, recs); err != nil {
		return nil, fmt.Errorf("recommend: save: %w", err)
	}
	s.produced.Add(int64(len(recs)))
	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.SaveRecommendations(ctx, prayer.ID, recs); err != nil {
			s.log.Warn("recommend: mirror save failed", "prayer_id", prayer.ID, "err", err)
		}
	}
	return recs, nil
}

// search holds the index open only for optimize and retrieve. The optimizer
// call overlaps with connecting to the index.
func (s *Service) search(ctx context.Context, prayer string) (domain.Query, []domain.Candidate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pending := s.deps.Optimizer.OptimizeAsync(ctx, prayer)

	ix, err := s.deps.Index.Connect(ctx)
	if err != nil {
		return domain.Query{}, nil, domain.NewIndexError("connect", err)
	}
	defer func() {
		if err := ix.Close(); err != nil {
			s.log.Warn("recommend: close index", "err", err)
		}
	}()

	q, err := (<-pending).Unwrap()
	if err != nil {
		return domain.Query{}, nil, err
	}
	candidates, err := s.deps.Retriever.Retrieve(ctx, ix, q)
	if err != nil {
		return domain.Query{}, nil, err
	}
	return q, candidates, nil
}

// List returns the stored recommendations for a prayer.
func (s *Service) List(ctx context.Context, prayerID string) ([]domain.Recommendation, error) {
	if prayerID == "" {
		return nil, domain.NewValidationError("id", prayerID, domain.ErrMissingID)
	}
	return s.deps.Store.ListRecommendations(ctx, prayerID)
}

// Delete removes a prayer's recommendations, as when the prayer is deleted.
func (s *Service) Delete(ctx context.Context, prayerID string) (int, error) {
	if prayerID == "" {
		return 0, domain.NewValidationError("id", prayerID, domain.ErrMissingID)
	}
	n, err := s.deps.Store.DeleteRecommendations(ctx, prayerID)
	if err != nil {
		return 0, err
	}
	if s.deps.Mirror != nil {
		if _, err := s.deps.Mirror.DeleteRecommendations(ctx, prayerID); err != nil {
			s.log.Warn("recommend: mirror delete failed", "prayer_id", prayerID, "err", err)
		}
	}
	return n, nil
}

// Outcome classifies an error for metrics, logs and transport replies. A
// deadline takes precedence over the kind of call it interrupted.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsValidation(err):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrIndex):
		return "index"
	case errors.Is(err, domain.ErrOracle):
		return "oracle"
	default:
		return "internal"
	}
}
