// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements the public-facing HTTP server of the monitor. It
// accepts telemetry posted by nodes and serves the node roster as a CSV
// dump and as a JSON list, streaming both as records arrive from the store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"golemmonitor/internal/monitor/logging"
	"golemmonitor/internal/monitor/metrics"
	"golemmonitor/internal/monitor/pingme"
	"golemmonitor/internal/monitor/roster"
	"golemmonitor/internal/monitor/stream"
	"golemmonitor/internal/monitor/updater"
)

const (
	cacheControl = "public, max-age=30"
	dumpFilename = "golem-stats.csv"
	// maxUpdateBody bounds a single telemetry post.
	maxUpdateBody = 1 << 20
)

// Writer accepts store writes. *updater.Updater satisfies it.
type Writer interface {
	Write(ctx context.Context, req updater.Request) error
}

// Deps wires the server to the rest of the process.
type Deps struct {
	Roster *roster.Reader
	Writer Writer
	Chunks stream.Options
	// Prober serves /ping-me; nil leaves the route unregistered.
	Prober *pingme.Prober
	// Health reports store reachability for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
	Now    func() time.Time
}

// Server handles the HTTP requests for the monitor.
type Server struct {
	deps Deps
	log  zerolog.Logger
}

// NewServer creates and configures a new API server.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{deps: deps, log: logging.WithComponent("api")}
}

// RegisterRoutes sets up the HTTP routes for the server on the given router.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/dump", s.handleDump).Methods(http.MethodGet)
	r.HandleFunc("/v1/nodes", s.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/", s.handleUpdate).Methods(http.MethodPost)
	r.Handle("/", http.RedirectHandler("/show", http.StatusMovedPermanently)).Methods(http.MethodGet)
	if s.deps.Prober != nil {
		r.HandleFunc("/ping-me", s.handlePingMe).Methods(http.MethodPost)
	}
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns a router with every route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}

// NewHTTPServer builds the listening server. Streaming responses may take
// long on large rosters, so there is no write timeout.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ListenAndServe starts the HTTP server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("monitor API server listening")
	return s.NewHTTPServer(addr).ListenAndServe()
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	generated := s.deps.Now()
	chunks := stream.CSV(roster.Columns, s.deps.Roster.Dump(r.Context()), s.deps.Chunks)
	s.writeStream(w, r, chunks, func(h http.Header) {
		h.Set("Content-Type", "text/x-csv")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dumpFilename))
		h.Set("Cache-Control", cacheControl)
		h.Set("Last-Modified", generated.UTC().Format(http.TimeFormat))
	})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	chunks := stream.JSONArray(s.deps.Roster.List(r.Context()), s.deps.Chunks)
	s.writeStream(w, r, chunks, func(h http.Header) {
		h.Set("Content-Type", "application/json")
		h.Set("Cache-Control", cacheControl)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			writeError(w, &HTTPError{Status: http.StatusServiceUnavailable, Err: err})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// HTTPError carries the status an error should be rendered with.
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string { return e.Err.Error() }
func (e *HTTPError) Unwrap() error { return e.Err }

// writeError renders err as a plain-text body. Errors that are not an
// *HTTPError become a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var he *HTTPError
	if errors.As(err, &he) {
		status = he.Status
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
