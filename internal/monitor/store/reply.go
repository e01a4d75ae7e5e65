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
	"fmt"
	"strconv"
)

// Reply is an undecoded store reply. The As* helpers never panic: a reply
// of any shape other than the one requested yields a Shape error.
type Reply struct {
	v interface{}
}

// NewReply wraps a raw value as produced by the go-redis Do family.
func NewReply(v interface{}) Reply { return Reply{v: v} }

// IsNil reports whether the store answered with a nil reply.
func (r Reply) IsNil() bool { return r.v == nil }

// Raw exposes the underlying value, mostly for logging the offending shape.
func (r Reply) Raw() interface{} { return r.v }

// AsString decodes a bulk or simple string reply.
func (r Reply) AsString() (string, error) {
	switch v := r.v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", shapeErr("string expected, got %s", describe(r.v))
	}
}

// AsInt decodes an integer reply. Numeric strings are accepted because
// some commands (SCAN cursors) encode integers as bulk strings.
func (r Reply) AsInt() (int64, error) {
	switch v := r.v.(type) {
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, shapeErr("integer expected, got %q", v)
		}
		return n, nil
	default:
		return 0, shapeErr("integer expected, got %s", describe(r.v))
	}
}

// AsPair decodes the first two elements of an array reply.
func (r Reply) AsPair() (Reply, Reply, error) {
	arr, ok := r.v.([]interface{})
	if !ok || len(arr) < 2 {
		return Reply{}, Reply{}, shapeErr("pair expected, got %s", describe(r.v))
	}
	return Reply{arr[0]}, Reply{arr[1]}, nil
}

// AsSlice decodes an array reply into its ordered elements.
func (r Reply) AsSlice() ([]Reply, error) {
	arr, ok := r.v.([]interface{})
	if !ok {
		return nil, shapeErr("array expected, got %s", describe(r.v))
	}
	out := make([]Reply, len(arr))
	for i, v := range arr {
		out[i] = Reply{v}
	}
	return out, nil
}

// AsStrings decodes an array reply whose elements are all strings.
func (r Reply) AsStrings() ([]string, error) {
	items, err := r.AsSlice()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, it := range items {
		if out[i], err = it.AsString(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AsStringMap decodes a field/value reply: a flat even-length array (RESP2)
// or a map (RESP3).
func (r Reply) AsStringMap() (map[string]string, error) {
	switch v := r.v.(type) {
	case []interface{}:
		if len(v)%2 != 0 {
			return nil, shapeErr("even-length array expected, got %d elements", len(v))
		}
		out := make(map[string]string, len(v)/2)
		for i := 0; i < len(v); i += 2 {
			k, err := Reply{v[i]}.AsString()
			if err != nil {
				return nil, err
			}
			val, err := Reply{v[i+1]}.AsString()
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]string, len(v))
		for mk, mv := range v {
			k, err := Reply{mk}.AsString()
			if err != nil {
				return nil, err
			}
			val, err := Reply{mv}.AsString()
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	default:
		return nil, shapeErr("map expected, got %s", describe(r.v))
	}
}

func describe(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case []interface{}:
		return fmt.Sprintf("array(len=%d)", len(t))
	case string:
		return "string"
	default:
		return fmt.Sprintf("%T", v)
	}
}
