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

package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golemmonitor/internal/monitor/logging"
	"golemmonitor/internal/monitor/metrics"
	"golemmonitor/internal/monitor/store"
)

// Options configures an Updater.
type Options struct {
	MailboxSize  int
	WriteTimeout time.Duration
	Mode         Mode
	// NamePrefix prefixes the connection name set by each incarnation.
	NamePrefix string
	// RestartDelay is the pause before a crashed worker is restarted.
	RestartDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MailboxSize <= 0 {
		o.MailboxSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.NamePrefix == "" {
		o.NamePrefix = "monitor-writer"
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = 100 * time.Millisecond
	}
	return o
}

type job struct {
	ctx  context.Context
	req  Request
	done chan error
}

// Updater serializes writes through one supervised worker goroutine.
type Updater struct {
	dial     Dialer
	opts     Options
	log      zerolog.Logger
	mailbox  chan *job
	stopChan chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	restarts atomic.Int64
}

// New creates an updater. Writes queue until Start is called.
func New(dial Dialer, opts Options) *Updater {
	opts = opts.withDefaults()
	return &Updater{
		dial:     dial,
		opts:     opts,
		log:      logging.WithComponent("updater"),
		mailbox:  make(chan *job, opts.MailboxSize),
		stopChan: make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Start launches the supervisor.
func (u *Updater) Start() {
	u.log.Info().Str("mode", u.opts.Mode.String()).Msg("starting writer")
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.supervise()
	}()
}

// Stop finishes the write in progress, fails every queued write with
// ErrStopped and waits for the worker to exit.
func (u *Updater) Stop() {
	if !atomic.CompareAndSwapUint32(&u.stopped, 0, 1) {
		return
	}
	u.log.Info().Msg("stopping writer")
	close(u.stopChan)
	u.wg.Wait()
	for {
		select {
		case j := <-u.mailbox:
			j.done <- ErrStopped
		default:
			close(u.exited)
			return
		}
	}
}

// Restarts reports how many times the worker has been restarted.
func (u *Updater) Restarts() int64 { return u.restarts.Load() }

// Write queues req and waits for its outcome. Only the main write is
// awaited; the active-set add that precedes a field write is not.
func (u *Updater) Write(ctx context.Context, req Request) error {
	if atomic.LoadUint32(&u.stopped) == 1 {
		return ErrStopped
	}
	if !req.Scalar() && len(req.Fields) == 0 {
		return ErrEmptyWrite
	}
	j := &job{ctx: ctx, req: req, done: make(chan error, 1)}
	select {
	case u.mailbox <- j:
	case <-u.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-u.exited:
		select {
		case err := <-j.done:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Updater) supervise() {
	for {
		if !u.runWorker() {
			return
		}
		n := u.restarts.Add(1)
		metrics.WriterRestartsTotal.Inc()
		select {
		case <-time.After(u.opts.RestartDelay):
		case <-u.stopChan:
			return
		}
		u.log.Warn().Int64("restarts", n).Msg("restarting writer")
	}
}

// runWorker runs one incarnation until stop or crash and reports whether it crashed.
func (u *Updater) runWorker() (crashed bool) {
	w := &worker{u: u, name: fmt.Sprintf("%s-%s", u.opts.NamePrefix, uuid.NewString())}
	var current *job
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			u.log.Error().Interface("panic", r).Str("conn", w.name).Msg("writer crashed")
			if current != nil {
				current.done <- ErrWriterCrashed
			}
		}
		w.close()
	}()

	_ = w.connect(context.Background())
	for {
		// Stop wins over queued work.
		select {
		case <-u.stopChan:
			return false
		default:
		}
		select {
		case <-u.stopChan:
			return false
		case j := <-u.mailbox:
			current = j
			err := w.apply(j)
			if err != nil {
				metrics.UpdateErrorsTotal.Inc()
			}
			current = nil
			j.done <- err
		}
	}
}

// worker is one incarnation: its connection, name and script handle die with it.
type worker struct {
	u    *Updater
	name string
	conn Conn
	sha  string
}

// connect dials and names the connection. Failures are logged; the next
// write dials again.
func (w *worker) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.u.opts.WriteTimeout)
	defer cancel()
	conn, err := w.u.dial.Dial(ctx)
	if err != nil {
		w.u.log.Warn().Err(err).Msg("writer connection failed")
		return err
	}
	if err := conn.ClientSetName(ctx, w.name); err != nil {
		w.u.log.Warn().Err(err).Str("conn", w.name).Msg("CLIENT SETNAME failed")
	} else {
		w.u.log.Info().Str("conn", w.name).Msg("writer connected")
	}
	w.conn = conn
	w.sha = ""
	return nil
}

func (w *worker) close() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

func (w *worker) apply(j *job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(j.ctx, w.u.opts.WriteTimeout)
	defer cancel()
	if w.conn == nil {
		if err := w.connect(ctx); err != nil {
			return err
		}
	}

	var err error
	switch {
	case j.req.Scalar():
		_, err = w.conn.Do(ctx, "SET", j.req.StoreKey(), j.req.Value)
	case w.u.opts.Mode == ModeScript:
		err = w.merge(ctx, j.req)
	default:
		err = w.direct(ctx, j.req)
	}
	if errors.Is(err, store.ErrTransport) {
		// A dedicated connection does not recover from transport failures.
		w.close()
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", j.req.StoreKey(), err)
	}
	return nil
}

func (w *worker) direct(ctx context.Context, req Request) error {
	res := w.conn.Send(ctx,
		store.Cmd{"SADD", store.ActiveNodesKey, req.Key},
		store.HMSetCmd(req.StoreKey(), req.Fields),
	)
	if res[0].Err != nil {
		w.u.log.Warn().Err(res[0].Err).Str("cliid", req.Key).Msg("active set add failed")
	}
	return res[1].Err
}
