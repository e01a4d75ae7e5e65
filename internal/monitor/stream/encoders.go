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

package stream

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"iter"
)

var jsonFrame = framing{open: []byte("["), sep: []byte(",\n"), close: []byte("]")}

// JSONArray encodes records as the elements of one JSON array. An empty
// sequence encodes as [].
func JSONArray[T any](records iter.Seq2[T, error], opts Options) iter.Seq2[[]byte, error] {
	return encode(records, appendJSON[T], jsonFrame, opts)
}

func appendJSON[T any](dst []byte, rec T) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

// CSV encodes header followed by one line per row. The header is written
// even when there are no rows. Every row must have len(header) fields.
func CSV(header []string, rows iter.Seq2[[]string, error], opts Options) iter.Seq2[[]byte, error] {
	head, err := csvLine(nil, header)
	if err != nil {
		return func(yield func([]byte, error) bool) { yield(nil, err) }
	}
	want := len(header)
	enc := func(dst []byte, row []string) ([]byte, error) {
		if len(row) != want {
			return dst, &RowWidthError{Got: len(row), Want: want}
		}
		return csvLine(dst, row)
	}
	return encode(rows, enc, framing{open: head}, opts)
}

// RowWidthError reports a CSV row that does not match the header.
type RowWidthError struct{ Got, Want int }

func (e *RowWidthError) Error() string {
	return fmt.Sprintf("csv row has %d fields, header has %d", e.Got, e.Want)
}

func csvLine(dst []byte, fields []string) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	w := csv.NewWriter(buf)
	if err := w.Write(fields); err != nil {
		return dst, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}
