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

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Kind classifies a store failure.
type Kind int

const (
	// Transport covers unreachable stores, broken connections and timeouts.
	Transport Kind = iota + 1
	// Shape means the reply did not match the grammar the caller expected.
	Shape
	// Server is an error reply produced by the store itself.
	Server
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Shape:
		return "shape"
	case Server:
		return "server"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrTransport = errors.New("store transport failure")
	ErrShape     = errors.New("store reply shape mismatch")
	ErrServer    = errors.New("store reported error")
)

// Error is the single error type returned by this package.
type Error struct {
	Kind Kind
	Cmd  string
	Err  error
}

func (e *Error) Error() string {
	if e.Cmd == "" {
		return fmt.Sprintf("store %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s %s error: %v", e.Cmd, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == Transport
	case ErrShape:
		return e.Kind == Shape
	case ErrServer:
		return e.Kind == Server
	}
	return false
}

func shapeErr(format string, args ...interface{}) error {
	return &Error{Kind: Shape, Err: fmt.Errorf(format, args...)}
}

// withCmd stamps the command name on err if it is a store error without one.
func withCmd(cmd string, err error) error {
	var se *Error
	if errors.As(err, &se) && se.Cmd == "" {
		return &Error{Kind: se.Kind, Cmd: cmd, Err: se.Err}
	}
	return err
}

// classify maps a go-redis error onto the package taxonomy.
func classify(cmd string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return &Error{Kind: Server, Cmd: cmd, Err: err}
	}
	return &Error{Kind: Transport, Cmd: cmd, Err: err}
}

// IsTimeout reports whether err is a deadline expiry; the caller may retry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// IsNoScript reports whether the store rejected an EVALSHA for an unknown script.
func IsNoScript(err error) bool {
	var se *Error
	if !errors.As(err, &se) || se.Kind != Server {
		return false
	}
	return strings.HasPrefix(se.Err.Error(), "NOSCRIPT")
}
