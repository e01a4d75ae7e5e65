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

package api

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"golemmonitor/internal/monitor/metrics"
	"golemmonitor/internal/monitor/pingme"
	"golemmonitor/internal/monitor/telemetry"
	"golemmonitor/internal/monitor/updater"
)

// handleUpdate stores one telemetry message. Message types the monitor does
// not keep are acknowledged with a 200 like any other.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	if err != nil {
		writeError(w, &HTTPError{Status: http.StatusBadRequest, Err: err})
		return
	}
	msg, err := telemetry.Decode(body)
	if err != nil {
		s.log.Debug().Err(err).Msg("rejected telemetry")
		writeError(w, &HTTPError{Status: http.StatusBadRequest, Err: err})
		return
	}

	reqs := telemetry.Normalize(msg, ClientIP(r), s.deps.Now())
	if len(reqs) == 0 {
		s.log.Warn().Str("type", msg.Type).Str("cliid", msg.ClientID).Msg("ignoring telemetry message")
		metrics.IgnoredMessagesTotal.WithLabelValues(msg.Type).Inc()
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, req := range reqs {
		if err := s.deps.Writer.Write(r.Context(), req); err != nil {
			s.log.Error().Err(err).Str("type", msg.Type).Str("cliid", msg.ClientID).Msg("telemetry write failed")
			writeError(w, writeStatus(err))
			return
		}
	}
	metrics.UpdatesTotal.WithLabelValues(msg.Type).Inc()
	w.WriteHeader(http.StatusOK)
}

func writeStatus(err error) *HTTPError {
	if errors.Is(err, updater.ErrStopped) {
		return &HTTPError{Status: http.StatusServiceUnavailable, Err: err}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Err: err}
}

func (s *Server) handlePingMe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	if err != nil {
		writeError(w, &HTTPError{Status: http.StatusBadRequest, Err: err})
		return
	}
	req := pingme.ParseForm(string(body), s.deps.Prober.Logger())
	res, err := s.deps.Prober.Check(r.Context(), ClientIP(r), req)
	switch {
	case errors.Is(err, pingme.ErrTooManyPorts):
		writeError(w, &HTTPError{Status: http.StatusBadRequest, Err: err})
		return
	case err != nil:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClientIP returns the first parseable address in X-Forwarded-For, falling
// back to the peer address of the connection. It is empty if neither parses.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
				return addr.Unmap().String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return ""
}
