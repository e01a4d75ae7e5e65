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

// Package scan turns the store's cursor enumeration into a lazy sequence of
// batches. The same loop drives key-pattern scans and set-member scans; only
// the page function differs.
//
// Semantics follow the store: a key added or removed while a scan runs may be
// seen zero, one or several times. Batches already yielded are never revoked.
package scan

import (
	"context"
	"iter"
	"time"

	"golemmonitor/internal/monitor/metrics"
	"golemmonitor/internal/monitor/store"
)

// DefaultPageTimeout bounds a single page fetch.
const DefaultPageTimeout = 2 * time.Second

// PageFunc fetches the page at cursor and returns the cursor of the next one.
// A returned next cursor of 0 ends the scan.
type PageFunc func(ctx context.Context, cursor uint64) (next uint64, batch []string, err error)

// Stream yields batches until the store reports cursor 0 or a fetch fails.
// A failed fetch is yielded once as (nil, err) and ends the sequence.
// Each page runs under its own timeout derived from ctx. Breaking out of the
// range loop stops further fetches. The returned sequence starts a fresh
// cursor run every time it is ranged over.
func Stream(ctx context.Context, fetch PageFunc, pageTimeout time.Duration) iter.Seq2[[]string, error] {
	if pageTimeout <= 0 {
		pageTimeout = DefaultPageTimeout
	}
	return func(yield func([]string, error) bool) {
		cursor := uint64(0)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			pctx, cancel := context.WithTimeout(ctx, pageTimeout)
			next, batch, err := fetch(pctx, cursor)
			cancel()
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) > 0 && !yield(batch, nil) {
				return
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

// Keys scans key names matching pattern with SCAN.
func Keys(c *store.Client, pattern string, count int) PageFunc {
	return func(ctx context.Context, cursor uint64) (uint64, []string, error) {
		metrics.ScanPages.WithLabelValues("keys").Inc()
		return c.Scan(ctx, cursor, pattern, count)
	}
}

// Members scans the members of set with SSCAN.
func Members(c *store.Client, set string, count int) PageFunc {
	return func(ctx context.Context, cursor uint64) (uint64, []string, error) {
		metrics.ScanPages.WithLabelValues("members").Inc()
		return c.SScan(ctx, set, cursor, count)
	}
}
