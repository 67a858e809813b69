package metrics

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wyndmere/avatarsync/internal/config"
	"github.com/wyndmere/avatarsync/internal/store"
	"github.com/wyndmere/avatarsync/internal/tracing"
)

// ServerOptions are the optional status-server features: bearer-token
// authentication of the API routes.
type ServerOptions struct {
	AuthEnabled bool
	AuthToken   string
}

// StatusServer serves the JSON status API and the Prometheus exposition
// endpoint for a running avatarsync daemon: live collector stats, run
// history, and the current (redacted) configuration.
type StatusServer struct {
	router    chi.Router
	collector *Collector
	store     *store.Store
	addr      string
	server    *http.Server
}

// NewStatusServer creates a new StatusServer wired to the given collector,
// store, and listen address.
func NewStatusServer(collector *Collector, st *store.Store, addr string, opts ServerOptions) *StatusServer {
	d := &StatusServer{
		collector: collector,
		store:     st,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(traceRequests)
	r.Use(allowLocalTools)

	r.Group(func(r chi.Router) {
		if opts.AuthEnabled && opts.AuthToken != "" {
			r.Use(bearerAuth(opts.AuthToken))
		}
		r.Get("/api/stats", d.handleStats)
		r.Get("/api/stats/history", d.handleStatsHistory)
		r.Get("/api/runs", d.handleListRuns)
		r.Get("/api/runs/{id}", d.handleGetRun)
		r.Get("/api/agents", d.handleAgents)
		r.Get("/api/config", d.handleGetConfig)
	})

	// Health and exposition stay unauthenticated for probes and scrapers.
	r.Get("/api/health", d.handleHealth)
	r.Get("/metrics", PrometheusHandler(collector))

	d.router = r
	return d
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (d *StatusServer) Start() error {
	d.server = &http.Server{
		Addr:         d.addr,
		Handler:      d.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", d.addr).Msg("status server starting")
	if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// StartTLS begins listening with TLS on the configured address. It blocks
// until the server is shut down or an error occurs.
func (d *StatusServer) StartTLS(certFile, keyFile string) error {
	d.server = &http.Server{
		Addr:         d.addr,
		Handler:      d.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", d.addr).Msg("status server starting (TLS)")
	if err := d.server.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the status server.
func (d *StatusServer) Shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

// handleHealth returns a simple health check response.
func (d *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns the current in-memory collector statistics.
func (d *StatusServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.collector.Stats())
}

// handleStatsHistory returns daily run aggregates from the store.
// Accepts ?range=1d, 7d, 30d (default 7d) and requires ?agent_id=.
func (d *StatusServer) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent_id parameter"})
		return
	}

	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = "7d"
	}

	since, err := parseDurationParam(rangeParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid range parameter"})
		return
	}

	sinceTime := time.Now().Add(-since)

	type historyPoint struct {
		Day           string `json:"day"`
		Runs          int64  `json:"runs"`
		PartialRuns   int64  `json:"partial_runs"`
		PendingLayers int64  `json:"pending_layers"`
	}

	rows, err := d.store.Reader().Query(`
		SELECT
			DATE(started_at) as day,
			COUNT(*) as runs,
			COALESCE(SUM(CASE WHEN partial = 1 THEN 1 ELSE 0 END), 0) as partial_runs,
			COALESCE(SUM(pending_layers), 0) as pending_layers
		FROM runs
		WHERE agent_id = ? AND started_at >= ?
		GROUP BY DATE(started_at)
		ORDER BY day ASC`,
		agentID, sinceTime.UTC().Format(time.RFC3339),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to query stats history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}
	defer rows.Close()

	var points []historyPoint
	for rows.Next() {
		var p historyPoint
		if err := rows.Scan(&p.Day, &p.Runs, &p.PartialRuns, &p.PendingLayers); err != nil {
			log.Error().Err(err).Msg("failed to scan history row")
			continue
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("history rows iteration error")
	}

	if points == nil {
		points = []historyPoint{}
	}

	writeJSON(w, http.StatusOK, points)
}

// handleListRuns returns a paginated list of run records for an agent.
// Requires ?agent_id=.
func (d *StatusServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent_id parameter"})
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := (page - 1) * limit

	runs, err := d.store.ListRuns(agentID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":  page,
		"limit": limit,
		"runs":  runs,
	})
}

// handleGetRun returns a single run by ID, including its per-layer
// fingerprint rows.
func (d *StatusServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing run id"})
		return
	}

	run, err := d.store.GetRun(id)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		log.Error().Err(err).Str("id", id).Msg("failed to get run")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleAgents returns per-agent run totals, most active first.
func (d *StatusServer) handleAgents(w http.ResponseWriter, _ *http.Request) {
	type agentEntry struct {
		AgentID       string `json:"agent_id"`
		Runs          int64  `json:"runs"`
		PartialRuns   int64  `json:"partial_runs"`
		PendingLayers int64  `json:"pending_layers"`
	}

	rows, err := d.store.Reader().Query(`
		SELECT agent_id, COUNT(*),
		       COALESCE(SUM(CASE WHEN partial = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pending_layers), 0)
		FROM runs
		GROUP BY agent_id
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		log.Error().Err(err).Msg("failed to query agents")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}
	defer rows.Close()

	var agents []agentEntry
	for rows.Next() {
		var a agentEntry
		if err := rows.Scan(&a.AgentID, &a.Runs, &a.PartialRuns, &a.PendingLayers); err != nil {
			log.Error().Err(err).Msg("failed to scan agent row")
			continue
		}
		agents = append(agents, a)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("agents rows iteration error")
	}

	if agents == nil {
		agents = []agentEntry{}
	}

	writeJSON(w, http.StatusOK, agents)
}

// handleGetConfig returns the current configuration with sensitive keys redacted.
func (d *StatusServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := config.Get()

	data, err := json.Marshal(cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	var cfgMap map[string]interface{}
	if err := json.Unmarshal(data, &cfgMap); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	redactKeys(cfgMap)
	writeJSON(w, http.StatusOK, cfgMap)
}

// --- helpers ---

// writeJSON serialises v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// traceRequests opens a server span per API request, named by method and
// path, and records the response status on it. Trace context arriving in
// the request headers is not consumed: the status API is a leaf surface
// scraped by probes and dashboards, not a hop in a distributed call.
func traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.Tracer().Start(r.Context(), "statusapi "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.code))
		if rec.code >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.code))
		}
	})
}

// statusRecorder remembers the first status code a handler writes.
type statusRecorder struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.code = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

// bearerAuth guards the API routes with a static token. The comparison
// runs over SHA-256 digests so it is constant-time regardless of how much
// of the token prefix an attacker guesses right.
func bearerAuth(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
				return
			}
			got := sha256.Sum256([]byte(supplied))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// parseDurationParam converts a shorthand like "7d" or "24h" to a
// time.Duration.
func parseDurationParam(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// sensitiveKey reports whether a config key's value must not be echoed
// back over the API.
func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, marker := range []string{"token", "secret", "key", "credential"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// redactKeys masks every string value under a sensitive key, walking
// nested maps and slices.
func redactKeys(m map[string]interface{}) {
	for k, v := range m {
		if sensitiveKey(k) {
			if _, isString := v.(string); isString {
				m[k] = "****"
				continue
			}
		}
		switch child := v.(type) {
		case map[string]interface{}:
			redactKeys(child)
		case []interface{}:
			for _, item := range child {
				if sub, ok := item.(map[string]interface{}); ok {
					redactKeys(sub)
				}
			}
		}
	}
}

// allowLocalTools opens the API to browser dashboards and local tooling:
// any origin may GET, and preflights are answered inline.
func allowLocalTools(next http.Handler) http.Handler {
	cors := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range cors {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
