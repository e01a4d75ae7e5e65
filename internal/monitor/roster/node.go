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

package roster

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Node is one roster entry as published: public field names, IP redacted,
// string values. Absent fields are simply not present.
type Node struct {
	ID     string
	Fields map[string]string
}

func newNode(id string, stored map[string]string) Node {
	n := Node{ID: id, Fields: make(map[string]string, len(stored))}
	for k, v := range stored {
		if k == "node_id" {
			continue
		}
		name := PublicName(k)
		if name == "ip" {
			v = Obfuscate(v)
		}
		n.Fields[name] = v
	}
	return n
}

// Get returns a published field. "node_id" is always present.
func (n Node) Get(name string) (string, bool) {
	if name == "node_id" {
		return n.ID, true
	}
	v, ok := n.Fields[name]
	return v, ok
}

// MarshalJSON writes node_id first, then the other fields sorted by name.
func (n Node) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString(`{"node_id":`)
	if err := writeJSONString(&buf, n.ID); err != nil {
		return nil, err
	}
	for _, k := range names {
		buf.WriteByte(',')
		if err := writeJSONString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, n.Fields[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
