package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/fn"
	"github.com/selah-app/selah/pkg/natsutil"
)

const (
	// RequestSubject is the NATS request/reply subject for generation.
	RequestSubject = "selah.recommend"
	// GeneratedSubject carries an Event after every successful generation.
	GeneratedSubject = "selah.recommendations.generated"
	// FailedSubject carries an Event after every failed generation.
	FailedSubject = "selah.recommendations.failed"
	// DefaultQueue is the queue group shared by worker processes.
	DefaultQueue = "selah-recommenders"
)

// Request asks for recommendations for one prayer.
type Request struct {
	PrayerID      string `json:"prayer_id"`
	Transcription string `json:"transcription"`
}

// View is the wire form of a recommendation, with the rendered reference.
type View struct {
	domain.Recommendation
	VerseReference string `json:"verse_reference"`
}

// Response is the reply to a Request.
type Response struct {
	PrayerID        string `json:"prayer_id"`
	Recommendations []View `json:"recommendations"`
}

// Event reports the outcome of one generation.
type Event struct {
	PrayerID        string `json:"prayer_id"`
	Recommendations int    `json:"recommendations"`
	Outcome         string `json:"outcome"`
	Error           string `json:"error,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

// Views converts recommendations to their wire form.
func Views(recs []domain.Recommendation) []View {
	return fn.Map(recs, func(r domain.Recommendation) View {
		return View{Recommendation: r, VerseReference: r.Reference()}
	})
}

// StartConsumer answers Requests on RequestSubject in queue group queue and
// publishes an Event per request. Reply errors carry the Outcome as kind.
func StartConsumer(nc *nats.Conn, svc *Service, queue string, log *slog.Logger) (*nats.Subscription, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Respond(nc, RequestSubject, queue, Outcome, func(ctx context.Context, req Request) (Response, error) {
		start := time.Now()
		recs, err := svc.Generate(ctx, domain.Prayer{ID: req.PrayerID, Transcription: req.Transcription})

		ev := Event{PrayerID: req.PrayerID, Recommendations: len(recs), Outcome: Outcome(err), DurationMS: time.Since(start).Milliseconds()}
		subject := GeneratedSubject
		if err != nil {
			subject, ev.Error = FailedSubject, err.Error()
		}
		if perr := natsutil.Publish(ctx, nc, subject, ev); perr != nil {
			log.Warn("recommend: publish event failed", "subject", subject, "err", perr)
		}

		if err != nil {
			return Response{}, err
		}
		return Response{PrayerID: req.PrayerID, Recommendations: Views(recs)}, nil
	})
}
