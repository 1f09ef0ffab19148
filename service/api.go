package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/observability"
	"github.com/osu-rework/performance-service/service/recalc"
	"github.com/osu-rework/performance-service/service/sessions"
	"github.com/osu-rework/performance-service/service/store"
)

// API is the HTTP surface: rework reads, session management, the session
// enqueue path and the ad-hoc calculate endpoint.
type API struct {
	store    store.Store
	boards   *store.Leaderboards
	sessions *sessions.Service
	source   recalc.BeatmapSource
	hub      *EventHub
	logger   zerolog.Logger

	// calculate parses beatmaps on demand; keep it from starving the rest
	calcLimiter *rate.Limiter
}

func NewAPI(st store.Store, boards *store.Leaderboards, sessionSvc *sessions.Service, source recalc.BeatmapSource, hub *EventHub, logger zerolog.Logger) *API {
	return &API{
		store:       st,
		boards:      boards,
		sessions:    sessionSvc,
		source:      source,
		hub:         hub,
		logger:      logger,
		calcLimiter: rate.NewLimiter(rate.Limit(25), 50),
	}
}

func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/calculate", a.handleCalculate)

	mux.HandleFunc("POST /api/v1/reworks/sessions", a.handleCreateSession)
	mux.HandleFunc("DELETE /api/v1/reworks/sessions/{token}", a.handleDeleteSession)
	mux.HandleFunc("POST /api/v1/reworks/{rework_id}/queue", a.handleQueue)

	mux.HandleFunc("GET /api/v1/reworks", a.handleListReworks)
	mux.HandleFunc("GET /api/v1/reworks/{rework_id}", a.handleGetRework)
	mux.HandleFunc("GET /api/v1/reworks/{rework_id}/leaderboards", a.handleLeaderboard)
	mux.HandleFunc("GET /api/v1/reworks/{rework_id}/scores/{user_id}", a.handleReworkScores)
	mux.HandleFunc("GET /api/v1/reworks/users/{user_id}", a.handleReworkUser)
	mux.HandleFunc("GET /api/v1/reworks/{rework_id}/users/{user_id}/stats", a.handleUserStats)
	mux.HandleFunc("GET /api/v1/reworks/{rework_id}/users/search", a.handleSearch)
	mux.HandleFunc("GET /api/v1/reworks/events/ws", a.handleEvents)

	mux.HandleFunc("GET /_health", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return a.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequestDuration.
			WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error().Err(err).Msg("response encoding failed")
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	a.writeJSON(w, status, map[string]string{
		"error_code":    string(code),
		"user_feedback": apperrors.Feedback(err),
	})
}

func pathInt32(r *http.Request, name string) (int32, error) {
	n, err := strconv.ParseInt(r.PathValue(name), 10, 32)
	if err != nil {
		return 0, apperrors.New(apperrors.BadRequest, "Invalid "+name)
	}
	return int32(n), nil
}

func queryInt32(r *http.Request, name string, fallback int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(n)
}
