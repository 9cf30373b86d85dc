// Package httpapi implements the HTTP Surface (§4.7, §6 of the design
// specification): a stateless JSON-over-HTTP router that extracts worker
// identity from request bodies, dispatches to the coordinator/registry, and
// renders either a JSON result or the {"error", "error_code"} envelope.
package httpapi

import (
	"embed"
	"net"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/archiveswarm/coordinator/apierror"
	"github.com/archiveswarm/coordinator/coordinator"
	"github.com/archiveswarm/coordinator/httpapi/submission"
	"github.com/archiveswarm/coordinator/metrics"
	"github.com/archiveswarm/coordinator/registry"
	"github.com/archiveswarm/coordinator/store"
)

//go:embed landing.html
var landingFS embed.FS

// Server holds everything an HTTP handler needs; it is never mutated after
// construction so handler methods take no lock.
type Server struct {
	coordinator *coordinator.Coordinator
	registry    *registry.Registry
	store       store.Gateway
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
}

// NewServer creates a Server.
func NewServer(c *coordinator.Coordinator, reg *registry.Registry, gw store.Gateway, log *zap.SugaredLogger, m *metrics.Metrics) *Server {
	return &Server{coordinator: c, registry: reg, store: gw, log: log, metrics: m}
}

// NewRouter builds the complete route table, §6.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.timed("stats", s.handleStats)).Methods(http.MethodGet)
	r.HandleFunc("/api/workers", s.timed("workers", s.handleWorkers)).Methods(http.MethodGet)
	r.HandleFunc("/api/workers/create", s.timed("workers_create", s.handleCreateWorker)).Methods(http.MethodPost)
	r.HandleFunc("/api/batches", s.timed("batches_dispatch", s.handleDispatch)).Methods(http.MethodPost)
	r.HandleFunc("/api/batches/{batch_id}", s.timed("batches_refetch", s.handleRefetch)).Methods(http.MethodPost)
	r.HandleFunc("/api/commit", s.timed("commit", s.handleCommit)).Methods(http.MethodPost)
	r.HandleFunc("/api/finalize", s.timed("finalize", s.handleFinalize)).Methods(http.MethodPost)

	submit := r.PathPrefix("/api").Subrouter()
	submit.Use(corsMiddleware)
	submit.HandleFunc("/videos/submit", s.timed("videos_submit", s.handleVideosSubmit)).Methods(http.MethodPost, http.MethodOptions)
	submit.HandleFunc("/playlists/submit", s.timed("playlists_submit", s.handlePlaylistsSubmit)).Methods(http.MethodPost, http.MethodOptions)
	submit.HandleFunc("/channels/submit", s.timed("channels_submit", s.handleChannelsSubmit)).Methods(http.MethodPost, http.MethodOptions)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apierror.NotFound())
	})
	return r
}

// handleLanding serves the embedded landing page directly; landingFS has no
// index.html, so http.FileServer would render a directory listing instead
// of the page itself.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	page, err := landingFS.ReadFile("landing.html")
	if err != nil {
		writeError(w, apierror.Internal())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// timed wraps a handler to record its duration against route in the HTTP
// request duration histogram, §6 Metrics.
func (s *Server) timed(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		s.metrics.ObserveHTTP(route, time.Since(start))
	}
}

// corsMiddleware implements the §6 CORS requirement for the three
// submission endpoints and their OPTIONS preflight.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The response is already committed at this point; nothing left
		// to do but note it happened.
		_ = err
	}
}

func writeError(w http.ResponseWriter, e *apierror.Error) {
	body := map[string]any{
		"error":      e.Message,
		"error_code": e.Code,
	}
	if e.BatchID != "" {
		body["batch_id"] = e.BatchID
	}
	writeJSON(w, e.HTTPStatus, body)
}

// writeMalformedBody responds to a request body that failed to decode as
// JSON. This sits outside the §6 error-code table (1-8, 404, 500) since a
// malformed request never reaches a component that could produce one of
// those; 400 is the plain HTTP signal for it.
func writeMalformedBody(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body", "error_code": 0})
}

// remoteIP extracts the caller's address for enrollment and /api/workers,
// stripping the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
