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

// Package store is a thin typed adapter over the key-value store. It issues
// commands through github.com/redis/go-redis/v9 and decodes replies into
// strings, pairs and arrays, reporting every failure as a *store.Error.
// There is no retry logic here.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Options configures the connection pool.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// backend is the part of go-redis shared by *redis.Client and *redis.Conn.
type backend interface {
	Process(ctx context.Context, cmd redis.Cmder) error
	Pipeline() redis.Pipeliner
}

// Pool owns the underlying go-redis client.
type Pool struct {
	rdb *redis.Client
}

// NewPool builds a pool for the store at opts.Addr. No connection is made
// until the first command.
func NewPool(opts Options) *Pool {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Pool{rdb: redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		// Per-command deadlines come from the caller's context.
		ContextTimeoutEnabled: true,
	})}
}

// Client returns a stateless handle that can be shared by any number of readers.
func (p *Pool) Client() *Client { return &Client{b: p.rdb} }

// Dedicated returns a handle bound to a single connection taken out of the
// pool. Its connection-scoped state (the client name) belongs to the caller,
// who must Close it.
func (p *Pool) Dedicated(ctx context.Context) (*Client, error) {
	conn := p.rdb.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, classify("PING", err)
	}
	return &Client{b: conn, closer: conn.Close}, nil
}

// Ping checks reachability of the store.
func (p *Pool) Ping(ctx context.Context) error {
	return classify("PING", p.rdb.Ping(ctx).Err())
}

// Close releases every pooled connection.
func (p *Pool) Close() error { return p.rdb.Close() }

// Cmd is a command name followed by its arguments.
type Cmd []interface{}

// Result is the outcome of one command in a Send batch.
type Result struct {
	Reply Reply
	Err   error
}

// Client issues commands and returns typed replies.
type Client struct {
	b      backend
	closer func() error
}

// Do issues one command. A nil reply is returned as a Reply for which
// IsNil is true, not as an error.
func (c *Client) Do(ctx context.Context, args ...interface{}) (Reply, error) {
	name := cmdName(args)
	cmd := redis.NewCmd(ctx, args...)
	_ = c.b.Process(ctx, cmd)
	v, err := cmd.Result()
	if err == redis.Nil {
		return Reply{}, nil
	}
	if err != nil {
		return Reply{}, classify(name, err)
	}
	return Reply{v: v}, nil
}

// Send writes cmds in order over one round trip and returns one Result per
// command. A failure of one command does not hide the outcome of the others.
func (c *Client) Send(ctx context.Context, cmds ...Cmd) []Result {
	out := make([]Result, len(cmds))
	if len(cmds) == 0 {
		return out
	}
	pipe := c.b.Pipeline()
	pending := make([]*redis.Cmd, len(cmds))
	for i, args := range cmds {
		pending[i] = pipe.Do(ctx, args...)
	}
	_, _ = pipe.Exec(ctx)
	for i, cmd := range pending {
		v, err := cmd.Result()
		switch {
		case err == redis.Nil:
			out[i] = Result{}
		case err != nil:
			out[i] = Result{Err: classify(cmdName(cmds[i]), err)}
		default:
			out[i] = Result{Reply: Reply{v: v}}
		}
	}
	return out
}

// Close releases a dedicated connection. It is a no-op for shared handles.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func cmdName(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToUpper(fmt.Sprint(args[0]))
}
