package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Streamer runs one server-sent event stream per request.
type Streamer interface {
	Serve(ctx context.Context, w http.ResponseWriter) error
}

type Server struct {
	streams   Streamer
	floors    json.RawMessage
	publicDir string
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer serves floors to viewers unchanged, extra companion fields
// included.
func NewServer(streams Streamer, floors json.RawMessage, publicDir string, lg *slog.Logger) *Server {
	if len(floors) == 0 {
		floors = json.RawMessage("[]")
	}
	return &Server{
		streams:   streams,
		floors:    floors,
		publicDir: publicDir,
		logger:    lg.With("component", "http"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /api/floors", s.handleFloors)
	mux.HandleFunc("GET /updates", s.handleUpdates)
	mux.Handle("/", http.FileServer(http.Dir(s.publicDir)))
	return s.logRequests(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully. Write
// timeouts stay unset because update streams are long-lived.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("now listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/index.html", http.StatusFound)
}

// handleIndex serves the page directly; http.FileServer would redirect
// /index.html back to /.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(s.publicDir, "index.html"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleFloors(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(s.floors); err != nil {
		s.logger.Warn("failed to write floors", "err", err)
	}
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeJSONError(w, http.StatusNotAcceptable, "updates are only available as text/event-stream")
		return
	}
	if err := s.streams.Serve(r.Context(), w); err != nil {
		s.logger.Warn("update stream ended", "remote", clientIP(r), "err", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("request",
			"ip", clientIP(r),
			"method", r.Method,
			"url", r.URL.String(),
		)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
