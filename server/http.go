// Package server provides the shell's local ops API: health, metrics, the
// recent download history, the saved files and a way to start a download in
// the hosted page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/webshell/backend"
	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/save"
	"github.com/wolfeidau/webshell/telemetry"
)

// Downloader starts a download in the hosted page without waiting for it.
type Downloader interface {
	Enqueue(req download.Request)
}

// FileStore lists, serves and removes saved downloads.
type FileStore interface {
	Files(ctx context.Context) ([]save.File, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, name string) error
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:9090")
	Address string

	// AuthToken, when set, is required as a Bearer token on every path
	// except /health and /metrics.
	AuthToken string

	// History backs GET /downloads. Optional.
	History *History

	// Downloader backs POST /downloads. Optional.
	Downloader Downloader

	// Files backs /files. Optional.
	Files FileStore

	Logger *slog.Logger
}

// Server is the ops HTTP server.
type Server struct {
	config     Config
	logger     *slog.Logger
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server. It does not listen until Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{config: cfg, logger: logger}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.loggingMiddleware(authMiddleware(cfg.AuthToken, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /downloads", s.handleListDownloads)
	mux.HandleFunc("POST /downloads", s.handleStartDownload)

	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /files/{name}", s.handleGetFile)
	mux.HandleFunc("DELETE /files/{name}", s.handleDeleteFile)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		writeJSON(w, http.StatusOK, []Record{})
		return
	}
	writeJSON(w, http.StatusOK, s.config.History.Records())
}

type startRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	if s.config.Downloader == nil {
		writeError(w, http.StatusServiceUnavailable, "no page is open")
		return
	}

	var body startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	req := download.NewRequest(body.URL)
	req.FilenameHint = body.Filename
	s.config.Downloader.Enqueue(req)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"scheme": string(req.Scheme()),
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if s.config.Files == nil {
		writeJSON(w, http.StatusOK, []save.File{})
		return
	}
	files, err := s.config.Files.Files(r.Context())
	if err != nil {
		s.logger.Error("listing files failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing files failed")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if s.config.Files == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name := r.PathValue("name")
	rc, err := s.config.Files.Open(r.Context(), name)
	if err != nil {
		s.fileError(w, err)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("serving file interrupted", "name", name, "error", err)
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.config.Files == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := s.config.Files.Remove(r.Context(), r.PathValue("name")); err != nil {
		s.fileError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fileError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("file operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "file operation failed")
}

// loggingMiddleware logs each request with structured fields.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		level := slog.LevelDebug
		if wrapped.status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"bytes_sent", wrapped.bytesWritten,
			"duration", duration.String(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("ops server started", "address", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the address the server listens on. Once Start has bound
// the listener this is the actual address, so a ":0" port is resolved.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
