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
	"sort"
	"strconv"
	"strings"
)

// Key layout shared by the writer and the roster readers.
const (
	NodeInfoCollection = "nodeinfo"
	P2PStatsCollection = "p2pstats"
	ActiveNodesKey     = "active_nodes"
	NodeInfoPattern    = NodeInfoCollection + ".*"
)

// CollectionKey joins a logical collection name and an id: nodeinfo.<id>.
func CollectionKey(collection, id string) string { return collection + "." + id }

func NodeInfoKey(id string) string { return CollectionKey(NodeInfoCollection, id) }
func P2PStatsKey(id string) string { return CollectionKey(P2PStatsCollection, id) }

// NodeIDFromKey strips the nodeinfo. prefix. Keys without it are returned as is.
func NodeIDFromKey(key string) string {
	return strings.TrimPrefix(key, NodeInfoCollection+".")
}

// Scan runs one SCAN page.
func (c *Client) Scan(ctx context.Context, cursor uint64, pattern string, count int) (uint64, []string, error) {
	r, err := c.Do(ctx, "SCAN", strconv.FormatUint(cursor, 10), "MATCH", pattern, "COUNT", strconv.Itoa(count))
	if err != nil {
		return 0, nil, err
	}
	next, keys, err := decodeScanPage(r)
	return next, keys, withCmd("SCAN", err)
}

// SScan runs one SSCAN page over the members of set.
func (c *Client) SScan(ctx context.Context, set string, cursor uint64, count int) (uint64, []string, error) {
	r, err := c.Do(ctx, "SSCAN", set, strconv.FormatUint(cursor, 10), "COUNT", strconv.Itoa(count))
	if err != nil {
		return 0, nil, err
	}
	next, members, err := decodeScanPage(r)
	return next, members, withCmd("SSCAN", err)
}

func decodeScanPage(r Reply) (uint64, []string, error) {
	cur, data, err := r.AsPair()
	if err != nil {
		return 0, nil, err
	}
	s, err := cur.AsString()
	if err != nil {
		return 0, nil, err
	}
	next, perr := strconv.ParseUint(s, 10, 64)
	if perr != nil {
		return 0, nil, shapeErr("cursor %q is not numeric", s)
	}
	items, err := data.AsStrings()
	if err != nil {
		return 0, nil, err
	}
	return next, items, nil
}

// HGetAll returns every field of the hash at key. A missing key yields an
// empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	r, err := c.Do(ctx, "HGETALL", key)
	if err != nil {
		return nil, err
	}
	m, err := r.AsStringMap()
	return m, withCmd("HGETALL", err)
}

// HMSetCmd builds an HMSET with fields in a stable order.
func HMSetCmd(key string, fields map[string]string) Cmd {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	cmd := make(Cmd, 0, 2+2*len(fields))
	cmd = append(cmd, "HMSET", key)
	for _, k := range names {
		cmd = append(cmd, k, fields[k])
	}
	return cmd
}

// HMSet writes fields into the hash at key, leaving other fields untouched.
func (c *Client) HMSet(ctx context.Context, key string, fields map[string]string) error {
	_, err := c.Do(ctx, HMSetCmd(key, fields)...)
	return err
}

// Set writes a plain string value.
func (c *Client) Set(ctx context.Context, key, value string) error {
	_, err := c.Do(ctx, "SET", key, value)
	return err
}

// SAdd adds member to set and reports how many members were new.
func (c *Client) SAdd(ctx context.Context, set, member string) (int64, error) {
	r, err := c.Do(ctx, "SADD", set, member)
	if err != nil {
		return 0, err
	}
	n, err := r.AsInt()
	return n, withCmd("SADD", err)
}

// SRem removes member from set and reports how many members were removed.
func (c *Client) SRem(ctx context.Context, set, member string) (int64, error) {
	r, err := c.Do(ctx, "SREM", set, member)
	if err != nil {
		return 0, err
	}
	n, err := r.AsInt()
	return n, withCmd("SREM", err)
}

// ClientSetName names the connection carrying the command. Only meaningful
// on a Dedicated handle.
func (c *Client) ClientSetName(ctx context.Context, name string) error {
	_, err := c.Do(ctx, "CLIENT", "SETNAME", name)
	return err
}

// ScriptLoad registers src and returns its handle.
func (c *Client) ScriptLoad(ctx context.Context, src string) (string, error) {
	r, err := c.Do(ctx, "SCRIPT", "LOAD", src)
	if err != nil {
		return "", err
	}
	sha, err := r.AsString()
	return sha, withCmd("SCRIPT", err)
}

// EvalSha runs a previously loaded script.
func (c *Client) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (Reply, error) {
	cmd := make(Cmd, 0, 3+len(keys)+len(args))
	cmd = append(cmd, "EVALSHA", sha, strconv.Itoa(len(keys)))
	for _, k := range keys {
		cmd = append(cmd, k)
	}
	cmd = append(cmd, args...)
	return c.Do(ctx, cmd...)
}
