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

// Package updater is the single serialized writer of telemetry into the
// store. Callers hand it normalized requests; one worker goroutine applies
// them one at a time over its own dedicated connection, so commands of two
// writes to the same record never interleave.
package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golemmonitor/internal/monitor/store"
)

var (
	// ErrStopped is returned for writes submitted to, or queued in, a stopped updater.
	ErrStopped = errors.New("updater stopped")
	// ErrWriterCrashed is returned for the write that was in flight when the worker crashed.
	ErrWriterCrashed = errors.New("writer crashed during write")
	// ErrEmptyWrite rejects a field write without fields.
	ErrEmptyWrite = errors.New("write has no fields")
)

// Request is one normalized write. A nil Fields map makes it a scalar write
// of Value; otherwise Fields are merged into the hash and Key is marked
// active.
type Request struct {
	Collection string
	Key        string
	Fields     map[string]string
	Value      string
}

// StoreKey is the full key the request writes to.
func (r Request) StoreKey() string { return store.CollectionKey(r.Collection, r.Key) }

// Scalar reports whether the request is a plain value write.
func (r Request) Scalar() bool { return r.Fields == nil }

// Mode selects how field writes reach the store.
type Mode int

const (
	// ModeDirect pipelines SADD and HMSET.
	ModeDirect Mode = iota
	// ModeScript runs both inside one server-side script.
	ModeScript
)

func (m Mode) String() string {
	if m == ModeScript {
		return "script"
	}
	return "direct"
}

// ParseMode accepts "direct" or "script".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return ModeDirect, nil
	case "script":
		return ModeScript, nil
	}
	return ModeDirect, fmt.Errorf("unknown write mode %q", s)
}

// Conn is the part of a dedicated store connection the worker uses.
type Conn interface {
	Do(ctx context.Context, args ...interface{}) (store.Reply, error)
	Send(ctx context.Context, cmds ...store.Cmd) []store.Result
	ClientSetName(ctx context.Context, name string) error
	ScriptLoad(ctx context.Context, src string) (string, error)
	EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (store.Reply, error)
	Close() error
}

// Dialer opens the worker's connection. Each worker incarnation dials anew.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// PoolDialer dials dedicated connections out of a store pool.
type PoolDialer struct{ Pool *store.Pool }

func (d PoolDialer) Dial(ctx context.Context) (Conn, error) {
	c, err := d.Pool.Dedicated(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}
