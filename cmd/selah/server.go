package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/engine/recommend"
	"github.com/selah-app/selah/pkg/metrics"
	"github.com/selah-app/selah/pkg/mid"
)

const maxBodyBytes = 1 << 20

// recommender is the part of *recommend.Service the HTTP API uses.
type recommender interface {
	Generate(ctx context.Context, prayer domain.Prayer) ([]domain.Recommendation, error)
	List(ctx context.Context, prayerID string) ([]domain.Recommendation, error)
	Delete(ctx context.Context, prayerID string) (int, error)
}

// GenerateRequest is the JSON body for POST /api/v1/prayers/{id}/recommendations.
type GenerateRequest struct {
	Transcription string `json:"transcription"`
}

// DeleteResponse is the JSON response for DELETE /api/v1/prayers/{id}/recommendations.
type DeleteResponse struct {
	PrayerID string `json:"prayer_id"`
	Deleted  int    `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func newHandler(svc recommender, logger *slog.Logger, reg *metrics.Registry, corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/v1/prayers/{id}/recommendations", handleGenerate(svc, logger))
	mux.HandleFunc("GET /api/v1/prayers/{id}/recommendations", handleList(svc, logger))
	mux.HandleFunc("DELETE /api/v1/prayers/{id}/recommendations", handleDelete(svc, logger))

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(corsOrigin),
		mid.Metrics(reg),
		mid.OTel("selah"),
		mid.MaxBody(maxBodyBytes),
	)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleGenerate(svc recommender, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			status := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, errorResponse{Error: "invalid request body", Kind: "validation"})
			return
		}
		id := r.PathValue("id")
		recs, err := svc.Generate(r.Context(), domain.Prayer{ID: id, Transcription: req.Transcription})
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, recommend.Response{PrayerID: id, Recommendations: recommend.Views(recs)})
	}
}

func handleList(svc recommender, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		recs, err := svc.List(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, recommend.Response{PrayerID: id, Recommendations: recommend.Views(recs)})
	}
}

func handleDelete(svc recommender, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		n, err := svc.Delete(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{PrayerID: id, Deleted: n})
	}
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch recommend.Outcome(err) {
	case "validation":
		return http.StatusBadRequest
	case "index", "oracle":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	kind := recommend.Outcome(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	logger.Error("request failed",
		"request_id", mid.RequestIDFrom(r.Context()),
		"path", r.URL.Path,
		"kind", kind,
		"err", err,
	)
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
