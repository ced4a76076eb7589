package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/loglens/loglens/config"
	"github.com/ZanzyTHEbar/loglens/loglens/conversation"
	"github.com/ZanzyTHEbar/loglens/loglens/generation/harness"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds an analyze request body.
const maxBodyBytes = 1 << 20

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, text, sessionID string) harness.Result
}

// SessionReader exposes read-only views of the conversation store.
type SessionReader interface {
	Get(id string) (conversation.Session, bool)
	Stats() conversation.StoreStats
}

// MetricsSource reports analysis metrics.
type MetricsSource interface {
	Snapshot() harness.MetricsSummary
}

type Server struct {
	analyzer Analyzer
	sessions SessionReader
	metrics  MetricsSource
	logger   zerolog.Logger
}

// NewServer builds the HTTP handler with routes and middleware.
func NewServer(analyzer Analyzer, sessions SessionReader, metrics MetricsSource, cfg config.ServerConfig, logger zerolog.Logger) http.Handler {
	s := &Server{
		analyzer: analyzer,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/log/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/log/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/log/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return chainMiddlewares(mux,
		withCORS(cfg.AllowedOrigins, cfg.CORSMaxAge),
		withLogging(logger),
		withRecover(logger),
	)
}

// NewHTTPServer wraps handler in an http.Server using the listener settings.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

type analyzeRequest struct {
	ExceptionLog string `json:"exceptionLog"`
	SessionID    string `json:"sessionId"`
}

type sessionResponse struct {
	SessionID    string                 `json:"sessionId"`
	LastActiveAt time.Time              `json:"lastActiveAt"`
	History      []conversation.Message `json:"history"`
}

type statsResponse struct {
	Sessions conversation.StoreStats `json:"sessions"`
	Analysis harness.MetricsSummary  `json:"analysis"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, harness.Result{Code: http.StatusRequestEntityTooLarge, Message: harness.MsgInputTooLarge})
			return
		}
		writeResult(w, harness.Result{Code: http.StatusBadRequest, Message: "invalid JSON body"})
		return
	}

	res := s.analyzer.Analyze(r.Context(), req.ExceptionLog, req.SessionID)
	if res.TraceID != "" {
		w.Header().Set("X-Trace-Id", res.TraceID)
	}
	writeResult(w, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:    session.ID,
		LastActiveAt: session.LastActiveAt,
		History:      session.History,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Sessions: s.sessions.Stats(),
		Analysis: s.metrics.Snapshot(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeResult sends res with the HTTP status mirroring its code.
func writeResult(w http.ResponseWriter, res harness.Result) {
	writeJSON(w, res.Code, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
