package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wattconnect/internal/ingestion"
	"wattconnect/internal/observability"
	"wattconnect/internal/persistence"
	"wattconnect/internal/projection"
	"wattconnect/internal/query"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer serves the JSON query API, admin endpoints, transaction
// injection, health probes, and Prometheus metrics on one listener.
type HTTPServer struct {
	httpServer    *http.Server
	addr          string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds the dependencies the HTTP handlers need.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.HTTPIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewHTTPServer builds the server with every route registered.
func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	mux := http.NewServeMux()

	// Query API
	mux.HandleFunc("GET /v1/accounts/{principal}", getBalanceHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/accounts/{principal}/journal", getJournalHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/accounts/{principal}/trades", getTradesHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/listings", listListingsHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/listings/{seller}", getListingHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/certifications", listCertificationsHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/certifications/{producer}", getCertificationHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/config", getConfigHandler(deps.QueryService))

	// Admin/manual transaction injection
	if deps.IngestService != nil {
		mux.HandleFunc("POST /v1/tx", deps.IngestService.Handler())
	}

	// Admin API
	mux.HandleFunc("GET /v1/admin/integrity", verifyIntegrityHandler(deps.QueryService))
	mux.HandleFunc("GET /v1/admin/log", logInfoHandler(deps.SnapshotMgr, deps.StartTime))
	mux.HandleFunc("POST /v1/admin/rebuild-projections", rebuildProjectionsHandler(deps.DB))

	// Probes and metrics
	if deps.HealthChecker != nil {
		mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())

	logger := observability.NewLogger("http")

	return &HTTPServer{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      requestLogger(logger, mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		addr:          addr,
		healthChecker: deps.HealthChecker,
		logger:        logger,
	}
}

// Start runs the server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// statusWriter captures the response code for access logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestLogger logs every request; probe and metrics scrapes at debug so
// the default level stays readable.
func requestLogger(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		evt := logger.Info()
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			evt = logger.Debug()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// ============================================================================
// Query handlers
// ============================================================================

func getBalanceHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := r.PathValue("principal")
		if principal == "" {
			writeError(w, http.StatusBadRequest, "principal is required")
			return
		}

		bal, err := qs.GetBalance(r.Context(), principal)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get balance: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, bal)
	}
}

func getJournalHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := r.PathValue("principal")
		limit := parseLimit(r, 100, 500)
		afterSeq := parseAfterSequence(r)

		entries, err := qs.GetJournalHistory(r.Context(), principal, limit, afterSeq)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get journal: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
	}
}

func getTradesHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := r.PathValue("principal")
		limit := parseLimit(r, 50, 100)
		afterSeq := parseAfterSequence(r)

		trades, err := qs.GetTradeHistory(r.Context(), principal, limit, afterSeq)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get trades: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
	}
}

func listListingsHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 50, 200)

		var afterSeller *string
		if after := r.URL.Query().Get("after"); after != "" {
			afterSeller = &after
		}

		listings, err := qs.GetListings(r.Context(), limit, afterSeller)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("list listings: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
	}
}

func getListingHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seller := r.PathValue("seller")

		listing, err := qs.GetListing(r.Context(), seller)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get listing: %v", err))
			return
		}
		if listing == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no listing for %s", seller))
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

func listCertificationsHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 50, 200)

		var status *string
		if s := r.URL.Query().Get("status"); s != "" {
			status = &s
		}
		var afterProducer *string
		if after := r.URL.Query().Get("after"); after != "" {
			afterProducer = &after
		}

		certs, err := qs.GetCertifications(r.Context(), status, limit, afterProducer)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("list certifications: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"certifications": certs})
	}
}

func getCertificationHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		producer := r.PathValue("producer")

		cert, err := qs.GetCertification(r.Context(), producer)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get certification: %v", err))
			return
		}
		if cert == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no application for %s", producer))
			return
		}
		writeJSON(w, http.StatusOK, cert)
	}
}

func getConfigHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := qs.GetConfig(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get config: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

// ============================================================================
// Admin handlers
// ============================================================================

func verifyIntegrityHandler(qs *query.QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := qs.VerifyIntegrity(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("verify integrity: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func logInfoHandler(snapMgr *persistence.SnapshotManager, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latestSeq, err := snapMgr.GetLatestSequence(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get latest sequence: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"last_sequence": latestSeq,
			"uptime":        time.Since(startTime).String(),
		})
	}
}

func rebuildProjectionsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := projection.RebuildProjections(r.Context(), db); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("rebuild failed: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
	}
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func parseAfterSequence(r *http.Request) *int64 {
	if s := r.URL.Query().Get("after"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}
