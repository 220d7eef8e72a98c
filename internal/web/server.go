// Package web provides an HTTP status server for the overtemp daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/overtemp/internal/status"
)

// BackoffSource answers attenuation queries. Implemented by service.Service.
type BackoffSource interface {
	ChannelBackoff(id int) float64
	ChannelCount() int
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	backoff    BackoffSource
}

// New creates a Server that reads state from the given tracker. backoff and
// metrics may be nil, in which case /backoff and /metrics are not served.
func New(addr string, tracker *status.Tracker, backoff BackoffSource, metrics http.Handler) *Server {
	s := &Server{tracker: tracker, backoff: backoff}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if backoff != nil {
		mux.HandleFunc("/backoff", s.handleBackoff)
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleBackoff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("channel")
	if q == "" {
		writeJSON(w, http.StatusOK, allBackoff(s.backoff))
		return
	}
	id, err := strconv.Atoi(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "channel must be an integer"})
		return
	}
	if id < 0 || id >= s.backoff.ChannelCount() {
		writeJSON(w, http.StatusNotFound, errorJSON{Error: "no such channel"})
		return
	}
	writeJSON(w, http.StatusOK, BackoffJSON{Channel: id, BackoffDB: s.backoff.ChannelBackoff(id)})
}
