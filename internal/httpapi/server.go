package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/service"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RecordLister is the read side of the audit mirror.
type RecordLister interface {
	ListRecent(ctx context.Context, limit int) ([]types.LogRecord, error)
}

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Records RecordLister
	Stats   func() service.Stats
}

// Server is the read-only query API over the audit mirror. It exposes no
// way to change configuration or write records.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	records    RecordLister
	stats      func() service.Stats
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		records: d.Records,
		stats:   d.Stats,
	}

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/access_events", s.handleAccessEvents)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		OK:         true,
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.stats != nil {
		st := s.stats()
		resp.Logged = st.Logged
		resp.Alarms = st.Alarms
		resp.Ignored = st.Ignored
		resp.Malformed = st.Malformed
		resp.Dropped = st.Dropped
	}

	if wantsProtobuf(r) {
		writeProto(w, http.StatusOK, healthToProto(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccessEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := s.records.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Printf("access_events error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	resp := accessEventsResponse(recs, time.Now().UTC())
	if wantsProtobuf(r) {
		msg, err := accessEventsToProto(resp)
		if err != nil {
			s.logger.Printf("access_events proto error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{OK: false, Error: code, Message: msg})
}
