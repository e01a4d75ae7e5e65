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
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"golemmonitor/internal/monitor/updater"
)

// percentile returns the p-th percentile from a sorted slice of durations (in ns).
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	weight := pos - math.Floor(pos)
	return int64((1-weight)*float64(sorted[lo]) + weight*float64(sorted[hi]))
}

type discardWriter struct{}

func (discardWriter) Write(context.Context, updater.Request) error { return nil }

func TestPercentile(t *testing.T) {
	s := []int64{10, 20, 30, 40, 50}
	if got := percentile(s, 50); got != 30 {
		t.Fatalf("p50=%d want 30", got)
	}
	if got := percentile(s, 100); got != 50 {
		t.Fatalf("p100=%d want 50", got)
	}
	if got := percentile(s, 25); got != 20 {
		t.Fatalf("p25=%d want 20", got)
	}
}

// Test_UpdateHandlerP99 measures decode and normalization of Login posts
// in-process, with a writer that does no I/O, and asserts a small p99.
func Test_UpdateHandlerP99(t *testing.T) {
	if os.Getenv("MONITOR_RUN_LATENCY") != "1" {
		t.Skip("skipping latency test; set MONITOR_RUN_LATENCY=1 to run")
	}
	h := NewServer(Deps{Writer: discardWriter{}}).Handler()
	body := `{"proto_ver":1,"data":{"type":"Login","cliid":"lat","metadata":{"os":"linux","settings":"{\"type\":\"ClientConfigDescriptor\",\"obj\":{\"node_name\":\"n\",\"num_cores\":8}}"}}}`

	for i := 0; i < 2000; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(body)))
	}
	const n = 5000
	lats := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
		}
		lats = append(lats, time.Since(start).Nanoseconds())
	}
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
	if p99 := time.Duration(percentile(lats, 99)); p99 > 10*time.Millisecond {
		t.Fatalf("p99 too high: %v", p99)
	}
}
