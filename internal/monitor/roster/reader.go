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

// Package roster reads the node roster out of the store. Dump produces CSV
// rows over every record key; List produces JSON-ready nodes over the active
// set and prunes members whose last update is older than the inactivity
// threshold. Both are lazy: records are fetched only as fast as the caller
// consumes them.
package roster

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"golemmonitor/internal/monitor/logging"
	"golemmonitor/internal/monitor/metrics"
	"golemmonitor/internal/monitor/scan"
	"golemmonitor/internal/monitor/store"
)

// Config tunes paging, fan-out and expiry.
type Config struct {
	// InactivityThreshold enables lazy expiry in List when positive.
	InactivityThreshold time.Duration
	PageTimeout         time.Duration
	FetchTimeout        time.Duration
	DumpPageSize        int
	DumpConcurrency     int // batches in flight
	ListPageSize        int
	ListConcurrency     int // record fetches in flight
	Now                 func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PageTimeout <= 0 {
		c.PageTimeout = scan.DefaultPageTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.DumpPageSize <= 0 {
		c.DumpPageSize = 10
	}
	if c.DumpConcurrency <= 0 {
		c.DumpConcurrency = 2
	}
	if c.ListPageSize <= 0 {
		c.ListPageSize = 10
	}
	if c.ListConcurrency <= 0 {
		c.ListConcurrency = 50
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Reader serves roster reads over a shared store handle.
type Reader struct {
	c   *store.Client
	cfg Config
	log zerolog.Logger
}

func NewReader(c *store.Client, cfg Config) *Reader {
	return &Reader{c: c, cfg: cfg.withDefaults(), log: logging.WithComponent("roster")}
}

// Dump yields one CSV row per record key, in Columns order. Rows of one batch
// are yielded together; batches may complete out of scan order. A failed
// fetch fails the whole read and no row of its batch is yielded.
func (r *Reader) Dump(ctx context.Context) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		batches := make(chan [][]string)
		errc := make(chan error, 1)
		go func() {
			defer close(batches)
			errc <- r.dumpBatches(ctx, batches)
		}()
		defer func() {
			cancel()
			for range batches {
			}
		}()

		for rows := range batches {
			for _, row := range rows {
				metrics.RosterRecordsTotal.WithLabelValues("csv").Inc()
				if !yield(row, nil) {
					return
				}
			}
		}
		if err := <-errc; err != nil {
			yield(nil, err)
		}
	}
}

// dumpBatches scans record keys and fetches up to DumpConcurrency batches at
// once, sending each finished batch to out.
func (r *Reader) dumpBatches(ctx context.Context, out chan<- [][]string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.DumpConcurrency)

	var scanErr error
	keys := scan.Keys(r.c, store.NodeInfoPattern, r.cfg.DumpPageSize)
	for batch, err := range scan.Stream(gctx, keys, r.cfg.PageTimeout) {
		if err != nil {
			scanErr = fmt.Errorf("scan record keys: %w", err)
			break
		}
		g.Go(func() error {
			rows, err := r.fetchRows(gctx, batch)
			if err != nil {
				return err
			}
			select {
			case out <- rows:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return scanErr
}

// fetchRows loads every key of a batch concurrently and joins them.
func (r *Reader) fetchRows(ctx context.Context, keys []string) ([][]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	rows := make([][]string, len(keys))
	for i, key := range keys {
		g.Go(func() error {
			fields, err := r.fetch(gctx, key)
			if err != nil {
				return err
			}
			rows[i] = csvRow(store.NodeIDFromKey(key), fields)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Reader) fetch(ctx context.Context, key string) (map[string]string, error) {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	fields, err := r.c.HGetAll(fctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return fields, nil
}

func csvRow(id string, fields map[string]string) []string {
	row := make([]string, len(Columns))
	for i, col := range Columns {
		switch col {
		case "node_id":
			row[i] = id
		case "ip":
			if v, ok := fields["ip"]; ok {
				row[i] = Obfuscate(v)
			}
		default:
			row[i] = fields[StoreField(col)]
		}
	}
	return row
}

type pending chan nodeResult

type nodeResult struct {
	node Node
	err  error
}

// List yields the active nodes in membership scan order. Up to
// ListConcurrency record fetches run ahead of the consumer, independent of
// scan page boundaries.
func (r *Reader) List(ctx context.Context) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		slots := make(chan struct{}, r.cfg.ListConcurrency)
		queue := make(chan pending, r.cfg.ListConcurrency)
		go func() {
			defer close(queue)
			r.listMembers(ctx, slots, queue)
		}()
		defer func() {
			cancel()
			for range queue {
			}
		}()

		for p := range queue {
			res := <-p
			<-slots
			if res.err != nil {
				yield(Node{}, res.err)
				return
			}
			metrics.RosterRecordsTotal.WithLabelValues("json").Inc()
			if !yield(res.node, nil) {
				return
			}
		}
	}
}

// listMembers starts one fetch per member as slots free up and queues the
// pending results in scan order.
func (r *Reader) listMembers(ctx context.Context, slots chan struct{}, queue chan<- pending) {
	members := scan.Members(r.c, store.ActiveNodesKey, r.cfg.ListPageSize)
	for batch, err := range scan.Stream(ctx, members, r.cfg.PageTimeout) {
		if err != nil {
			p := make(pending, 1)
			p <- nodeResult{err: fmt.Errorf("scan active nodes: %w", err)}
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			queue <- p
			return
		}
		for _, id := range batch {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			p := make(pending, 1)
			go func() {
				node, err := r.loadNode(ctx, id)
				p <- nodeResult{node: node, err: err}
			}()
			queue <- p
		}
	}
}

func (r *Reader) loadNode(ctx context.Context, id string) (Node, error) {
	fields, err := r.fetch(ctx, store.NodeInfoKey(id))
	if err != nil {
		return Node{}, err
	}
	if r.stale(fields) {
		r.expire(ctx, id)
	}
	return newNode(id, fields), nil
}

// stale reports whether the record's server timestamp is older than the
// inactivity threshold. Records without a usable timestamp are never stale.
func (r *Reader) stale(fields map[string]string) bool {
	if r.cfg.InactivityThreshold <= 0 {
		return false
	}
	ms, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return false
	}
	lastSeen := time.UnixMilli(ms)
	return lastSeen.Add(r.cfg.InactivityThreshold).Before(r.cfg.Now())
}

// expire removes id from the active set. Failures are logged and counted only.
func (r *Reader) expire(ctx context.Context, id string) {
	ectx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	if _, err := r.c.SRem(ectx, store.ActiveNodesKey, id); err != nil {
		metrics.ExpireErrorsTotal.Inc()
		r.log.Warn().Err(err).Str("cliid", id).Msg("lazy expiry failed")
		return
	}
	metrics.ExpiredNodesTotal.Inc()
	r.log.Info().Str("cliid", id).Msg("node expired from active set")
}
