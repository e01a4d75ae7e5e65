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
	"iter"
	"net/http"
)

// writeStream copies chunks to w. Headers and the 200 status are committed
// with the first chunk, so a pipeline that fails before producing anything
// still gets a proper 500. A failure after that point can only abort the
// connection, leaving the client with a truncated body.
//
// Returning early stops the range, which stops the encoder from pulling
// more records.
func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, chunks iter.Seq2[[]byte, error], setHeaders func(http.Header)) {
	rc := http.NewResponseController(w)
	started := false
	for chunk, err := range chunks {
		if err != nil {
			if !started {
				s.log.Error().Err(err).Str("path", r.URL.Path).Msg("roster read failed")
				writeError(w, err)
				return
			}
			s.log.Error().Err(err).Str("path", r.URL.Path).Msg("roster read failed mid-stream, aborting response")
			panic(http.ErrAbortHandler)
		}
		if !started {
			setHeaders(w.Header())
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write(chunk); err != nil {
			s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("client went away")
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
