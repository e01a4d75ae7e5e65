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

// Package stream encodes a lazy sequence of records into a lazy sequence of
// byte chunks that concatenate to one JSON array or one CSV document.
//
// Chunks are cut only on record boundaries. A chunk is handed to the
// consumer once the buffer grows past MinChunk, and a record that would push
// a non-empty buffer past MaxChunk causes the buffer to be emitted first.
// A single record larger than MaxChunk becomes an oversized chunk of its own.
//
// An upstream or encoding error ends the sequence with that error; bytes
// still buffered at that point are discarded, so the consumer only ever
// sees output up to the last flushed record boundary.
package stream

import (
	"fmt"
	"iter"
)

// Default chunk bounds.
const (
	DefaultMinChunk = 8 << 10
	DefaultMaxChunk = 64 << 10
)

// Options bounds the size of emitted chunks.
type Options struct {
	MinChunk int
	MaxChunk int
}

func (o Options) withDefaults() Options {
	if o.MinChunk <= 0 {
		o.MinChunk = DefaultMinChunk
	}
	if o.MaxChunk <= 0 {
		o.MaxChunk = DefaultMaxChunk
	}
	if o.MinChunk > o.MaxChunk {
		o.MinChunk = o.MaxChunk
	}
	return o
}

type state int

const (
	stateStart state = iota
	stateInArray
	stateAtEnd
)

// framing is the document skeleton around the records.
type framing struct {
	open  []byte // before the first record, or alone if there are none
	sep   []byte // between records
	close []byte
}

// appendFunc appends the encoding of one record to dst.
type appendFunc[T any] func(dst []byte, rec T) ([]byte, error)

type chunker struct {
	opts  Options
	frame framing
	state state
	buf   []byte
	n     int
}

// add stages one encoded record and returns the chunks that became ready.
func (c *chunker) add(rec []byte) [][]byte {
	var out [][]byte
	lead := c.frame.sep
	if c.state == stateStart {
		lead = c.frame.open
	}
	if len(c.buf) > 0 && len(c.buf)+len(lead)+len(rec) > c.opts.MaxChunk {
		out = append(out, c.take())
	}
	c.buf = append(c.buf, lead...)
	c.buf = append(c.buf, rec...)
	c.state = stateInArray
	c.n++
	if len(c.buf) > c.opts.MinChunk {
		out = append(out, c.take())
	}
	return out
}

// finish closes the document and returns whatever is left.
func (c *chunker) finish() []byte {
	if c.state == stateStart {
		c.buf = append(c.buf, c.frame.open...)
	}
	c.buf = append(c.buf, c.frame.close...)
	c.state = stateAtEnd
	return c.take()
}

func (c *chunker) take() []byte {
	out := c.buf
	c.buf = make([]byte, 0, c.opts.MinChunk+c.opts.MinChunk/2)
	return out
}

// encode drives the Start -> InArray -> AtEnd machine over records.
func encode[T any](records iter.Seq2[T, error], enc appendFunc[T], frame framing, opts Options) iter.Seq2[[]byte, error] {
	opts = opts.withDefaults()
	return func(yield func([]byte, error) bool) {
		c := &chunker{opts: opts, frame: frame}
		var scratch []byte
		for rec, err := range records {
			if err != nil {
				yield(nil, err)
				return
			}
			scratch, err = enc(scratch[:0], rec)
			if err != nil {
				yield(nil, fmt.Errorf("encode record %d: %w", c.n, err))
				return
			}
			for _, out := range c.add(scratch) {
				if !yield(out, nil) {
					return
				}
			}
		}
		if out := c.finish(); len(out) > 0 {
			yield(out, nil)
		}
	}
}
