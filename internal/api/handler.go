// Package api serves the discovery engine over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/engine"
	"github.com/japanese-wolf/brain-stream/internal/ingest/collector"
)

// Rate limiting constants for write endpoints.
const (
	rateLimitRequests = 60
	rateLimitBurst    = 30
	rateLimitWindow   = time.Minute
	// Limiters idle longer than limiterIdleTTL are dropped, at most once per limiterSweepEvery.
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json; charset=utf-8"
	maxBodyBytes      = 1 << 16
	logFieldPath      = "path"
)

// Service is the engine surface the API needs.
type Service interface {
	GetFeed(ctx context.Context, req engine.FeedRequest) (engine.FeedPage, error)
	RecordFeedback(ctx context.Context, id domain.ArticleID, action domain.Action) (domain.ClusterArm, error)
	TopologySummary() []domain.ClusterSummary
	Rebuild(ctx context.Context) (engine.RebuildResult, error)
	Stats() engine.Stats
	Article(id domain.ArticleID) (domain.RawArticle, domain.Assignment, error)
}

// SourceService lists the feed sources and runs a collection pass on demand.
type SourceService interface {
	Statuses() []collector.SourceStatus
	Collect(ctx context.Context) collector.Summary
}

// Handler routes /api/v1 requests.
type Handler struct {
	svc        Service
	sources    SourceService
	mux        *http.ServeMux
	corsOrigin string
	logger     *zerolog.Logger
	now        func() time.Time

	limiters   map[string]*clientLimiter
	lastSweep  time.Time
	limitersMu sync.Mutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithSources enables the /api/v1/sources routes.
func WithSources(sources SourceService) Option {
	return func(h *Handler) {
		h.sources = sources
	}
}

// NewHandler creates the API handler. An empty corsOrigin disables CORS headers.
func NewHandler(svc Service, corsOrigin string, logger *zerolog.Logger, opts ...Option) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	h := &Handler{
		svc:        svc,
		mux:        http.NewServeMux(),
		corsOrigin: corsOrigin,
		logger:     logger,
		now:        time.Now,
		limiters:   make(map[string]*clientLimiter),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("GET /api/v1/feed", h.getFeed)
	h.mux.HandleFunc("GET /api/v1/articles/{id}", h.getArticle)
	h.mux.HandleFunc("POST /api/v1/articles/{id}/actions", h.postAction)
	h.mux.HandleFunc("GET /api/v1/topology", h.getTopology)
	h.mux.HandleFunc("POST /api/v1/topology/rebuild", h.postRebuild)
	h.mux.HandleFunc("GET /api/v1/stats", h.getStats)

	if h.sources != nil {
		h.mux.HandleFunc("GET /api/v1/sources", h.getSources)
		h.mux.HandleFunc("POST /api/v1/sources/fetch", h.postFetch)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.corsOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	req, err := parseFeedRequest(r)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	page, err := h.svc.GetFeed(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, newFeedResponse(page))
}

func parseFeedRequest(r *http.Request) (engine.FeedRequest, error) {
	q := r.URL.Query()
	req := engine.FeedRequest{Vendor: strings.TrimSpace(q.Get("vendor"))}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, errors.ErrInvalidInput
		}

		req.PageSize = n
	}

	if v := q.Get("primary_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.ErrInvalidInput
		}

		req.PrimaryOnly = b
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, errors.ErrInvalidInput
		}

		req.Since = t
	}

	return req, nil
}

func (h *Handler) getArticle(w http.ResponseWriter, r *http.Request) {
	id := domain.ArticleID(r.PathValue("id"))

	raw, assignment, err := h.svc.Article(id)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, articleResponse{
		ID:          raw.ID,
		Vendor:      raw.Vendor,
		Title:       raw.Title,
		Text:        raw.Text,
		URL:         raw.URL,
		CollectedAt: raw.CollectedAt,
		PublishedAt: optionalTime(raw.PublishedAt),
		ClusterID:   assignment.Key(),
	})
}

type actionRequest struct {
	Action string `json:"action"`
}

func (h *Handler) postAction(w http.ResponseWriter, r *http.Request) {
	if !h.allowRequest(getClientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})

		return
	}

	var body actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, r, errors.ErrInvalidInput)

		return
	}

	action, err := domain.ParseAction(body.Action)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	arm, err := h.svc.RecordFeedback(r.Context(), domain.ArticleID(r.PathValue("id")), action)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, newArmResponse(arm))
}

func (h *Handler) getTopology(w http.ResponseWriter, _ *http.Request) {
	stats := h.svc.Stats()
	clusters := h.svc.TopologySummary()

	if clusters == nil {
		clusters = []domain.ClusterSummary{}
	}

	writeJSON(w, http.StatusOK, topologyResponse{
		Version:    stats.Version,
		Articles:   stats.Articles,
		Noise:      stats.Noise,
		Rebuilding: stats.Rebuilding,
		Clusters:   clusters,
	})
}

func (h *Handler) postRebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Rebuild(r.Context())
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, newRebuildResponse(res))
}

func (h *Handler) getStats(w http.ResponseWriter, _ *http.Request) {
	s := h.svc.Stats()

	writeJSON(w, http.StatusOK, statsResponse{
		Version:    s.Version,
		Articles:   s.Articles,
		Clusters:   s.Clusters,
		Noise:      s.Noise,
		Links:      s.Links,
		Rebuilding: s.Rebuilding,
	})
}

func (h *Handler) getSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newSourcesResponse(h.sources.Statuses()))
}

// postFetch runs a collection pass and waits for it. A pass already running
// on the scheduler finishes first.
func (h *Handler) postFetch(w http.ResponseWriter, r *http.Request) {
	if !h.allowRequest(getClientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})

		return
	}

	sum := h.sources.Collect(r.Context())
	if err := r.Context().Err(); err != nil {
		h.writeError(w, r, err)

		return
	}

	h.logger.Info().
		Int("fetched", sum.Fetched).
		Int("ingested", sum.Ingested).
		Strs("failed_sources", sum.Failed).
		Msg("collection triggered over api")

	writeJSON(w, http.StatusOK, newFetchResponse(sum))
}

// writeError maps engine errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}

	event.Err(err).Str(logFieldPath, r.URL.Path).Int("status", status).Msg("api request failed")

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errors.ErrUnknownArticle):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidAction), errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrRebuildInProgress):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	//nolint:errcheck // client went away, nothing left to report
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) allowRequest(ip string) bool {
	now := h.now()

	h.limitersMu.Lock()

	if now.Sub(h.lastSweep) >= limiterSweepEvery {
		h.sweepLimitersLocked(now)
	}

	cl, ok := h.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitRequests), rateLimitBurst)}
		h.limiters[ip] = cl
	}

	cl.lastSeen = now

	h.limitersMu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// sweepLimitersLocked drops limiters of clients idle past limiterIdleTTL.
// A dropped client starts over with a full burst, which is what an idle
// limiter would have refilled to anyway.
func (h *Handler) sweepLimitersLocked(now time.Time) {
	for ip, cl := range h.limiters {
		if now.Sub(cl.lastSeen) > limiterIdleTTL {
			delete(h.limiters, ip)
		}
	}

	h.lastSweep = now
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}

	return host
}
