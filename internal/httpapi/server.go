package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/voiceauditor/internal/config"
	"github.com/ent0n29/voiceauditor/internal/observability"
	"github.com/ent0n29/voiceauditor/internal/query"
	"github.com/ent0n29/voiceauditor/internal/status"
	"github.com/ent0n29/voiceauditor/internal/tracker"
)

// Ingestor accepts presence transitions for asynchronous processing.
type Ingestor interface {
	Submit(tr tracker.Transition) error
}

// Queries answers the read-side attendance questions.
type Queries interface {
	Recent(ctx context.Context, q query.RecentQuery) (query.RecentResult, error)
	Leaderboard(ctx context.Context, q query.LeaderboardQuery) (query.LeaderboardResult, error)
	InactivityAudit(ctx context.Context, q query.AuditQuery) (query.AuditResult, error)
}

type StatusSource interface {
	Current() status.Snapshot
}

// Deps bundles the collaborators the HTTP layer fronts. Status may be nil.
type Deps struct {
	Ingest    Ingestor
	Queries   Queries
	Status    StatusSource
	StoreMode string
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

type Server struct {
	cfg       config.Config
	ingest    Ingestor
	queries   Queries
	status    StatusSource
	storeMode string
	metrics   *observability.Metrics
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		ingest:    deps.Ingest,
		queries:   deps.Queries,
		status:    deps.Status,
		storeMode: deps.StoreMode,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only stream presence from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/presence", s.handlePresence)
	r.Get("/v1/presence/ws", s.handlePresenceWS)

	r.Route("/v1/venues/{venueID}", func(r chi.Router) {
		r.Get("/recent", s.handleRecent)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Post("/audit", s.handleAudit)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeModeLabel(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ingest == nil || s.queries == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "tracker or query engine not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeModeLabel(),
	})
}

func (s *Server) storeModeLabel() string {
	mode := strings.TrimSpace(s.storeMode)
	if mode == "" {
		return "unknown"
	}
	return mode
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
