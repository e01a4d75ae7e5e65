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
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golemmonitor/internal/monitor/store"
	"golemmonitor/internal/monitor/store/storetest"
)

func TestColumns(t *testing.T) {
	require.Len(t, Columns, 44)
	seen := make(map[string]bool)
	for _, c := range Columns {
		assert.False(t, seen[c], "duplicate column %s", c)
		seen[c] = true
	}
	assert.Equal(t, "node_id", Columns[0])
	assert.Equal(t, "supported_tasks", Columns[28])
}

func TestRemap(t *testing.T) {
	cases := map[string]string{
		"last_seen":             "timestamp",
		"cpu_cores":             "num_cores",
		"subtasks_success":      "completed",
		"p2p_protocol_version":  "protocol_version_p2p",
		"task_protocol_version": "protocol_version_task",
		"tasks_requested":       "tasks_requested",
		"rs_failed_cnt":         "rs_failed_cnt",
	}
	for col, field := range cases {
		assert.Equal(t, field, StoreField(col), col)
		assert.Equal(t, col, PublicName(field), field)
	}
	for _, col := range Columns {
		assert.Equal(t, col, PublicName(StoreField(col)))
	}
}

func TestObfuscate(t *testing.T) {
	cases := map[string]string{
		"206.174.118.78": "206.x.x.x",
		"1.2.3.4":        "1.x.x.x",
		"":               "x.x.x.x",
		"localhost":      "x.x.x.x",
		"2001:db8::1":    "x.x.x.x",
		".5":             ".x.x.x",
	}
	for in, want := range cases {
		assert.Equal(t, want, Obfuscate(in), in)
	}
}

func TestNode_MarshalJSON(t *testing.T) {
	n := newNode("abc", map[string]string{
		"timestamp": "1700000000000",
		"ip":        "10.1.2.3",
		"num_cores": "8",
		"node_id":   "spoofed",
	})
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, `{"node_id":"abc","cpu_cores":"8","ip":"10.x.x.x","last_seen":"1700000000000"}`, string(b))

	b, err = json.Marshal(newNode("q\"", nil))
	require.NoError(t, err)
	assert.Equal(t, `{"node_id":"q\""}`, string(b))
}

func seedNodes(srv *storetest.Server, n int, ts int64) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("node%02d", i)
		srv.Seed(store.NodeInfoKey(ids[i]), map[string]string{
			"timestamp": strconv.FormatInt(ts, 10),
			"ip":        "192.168.0." + strconv.Itoa(i),
			"num_cores": strconv.Itoa(i),
		}, ids[i])
	}
	return ids
}

func TestDump_RowsForEveryRecord(t *testing.T) {
	srv := storetest.Start(t)
	ids := seedNodes(srv, 23, 1000)
	r := NewReader(srv.Pool(t).Client(), Config{DumpPageSize: 4, DumpConcurrency: 2})

	got := make(map[string][]string)
	for row, err := range r.Dump(context.Background()) {
		require.NoError(t, err)
		require.Len(t, row, len(Columns))
		got[row[0]] = row
	}
	require.Len(t, got, len(ids))

	row := got["node07"]
	col := func(name string) string {
		for i, c := range Columns {
			if c == name {
				return row[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}
	assert.Equal(t, "1000", col("last_seen"))
	assert.Equal(t, "192.x.x.x", col("ip"))
	assert.Equal(t, "7", col("cpu_cores"))
	assert.Equal(t, "", col("tasks_requested"))
	assert.Equal(t, "", col("node_name"))
}

func TestDump_Empty(t *testing.T) {
	srv := storetest.Start(t)
	r := NewReader(srv.Pool(t).Client(), Config{})
	for _, err := range r.Dump(context.Background()) {
		require.NoError(t, err)
		t.Fatalf("no rows expected")
	}
}

func TestDump_FetchFailureFailsRead(t *testing.T) {
	srv := storetest.Start(t)
	seedNodes(srv, 5, 1)
	srv.Fail("HGETALL", "ERR hash unavailable")
	r := NewReader(srv.Pool(t).Client(), Config{DumpPageSize: 10})

	rows := 0
	var gotErr error
	for _, err := range r.Dump(context.Background()) {
		if err != nil {
			gotErr = err
			continue
		}
		rows++
	}
	assert.Zero(t, rows)
	require.ErrorIs(t, gotErr, store.ErrServer)
}

func TestDump_ScanFailure(t *testing.T) {
	srv := storetest.Start(t)
	srv.Fail("SCAN", "ERR no scanning")
	r := NewReader(srv.Pool(t).Client(), Config{})

	var gotErr error
	for _, err := range r.Dump(context.Background()) {
		gotErr = err
	}
	require.ErrorIs(t, gotErr, store.ErrServer)
	assert.Contains(t, gotErr.Error(), "scan record keys")
}

func TestList_OrderFollowsMembershipScan(t *testing.T) {
	srv := storetest.Start(t)
	ids := seedNodes(srv, 37, 1000)
	r := NewReader(srv.Pool(t).Client(), Config{ListPageSize: 5, ListConcurrency: 7})

	var got []string
	for n, err := range r.List(context.Background()) {
		require.NoError(t, err)
		got = append(got, n.ID)
	}
	// The fake answers SSCAN in sorted member order.
	assert.Equal(t, ids, got)
}

func TestList_MemberWithoutRecord(t *testing.T) {
	srv := storetest.Start(t)
	srv.Seed("unused", nil, "ghost")
	r := NewReader(srv.Pool(t).Client(), Config{})

	var nodes []Node
	for n, err := range r.List(context.Background()) {
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	require.Len(t, nodes, 1)
	assert.Equal(t, "ghost", nodes[0].ID)
	assert.Empty(t, nodes[0].Fields)
}

func TestList_LazyExpiry(t *testing.T) {
	srv := storetest.Start(t)
	now := time.UnixMilli(1_700_000_000_000)
	threshold := time.Minute
	stale := now.Add(-threshold - time.Millisecond).UnixMilli()
	fresh := now.Add(-threshold + time.Second).UnixMilli()
	srv.Seed(store.NodeInfoKey("old"), map[string]string{"timestamp": strconv.FormatInt(stale, 10)}, "old")
	srv.Seed(store.NodeInfoKey("new"), map[string]string{"timestamp": strconv.FormatInt(fresh, 10)}, "new")

	r := NewReader(srv.Pool(t).Client(), Config{
		InactivityThreshold: threshold,
		Now:                 func() time.Time { return now },
	})

	var got []string
	for n, err := range r.List(context.Background()) {
		require.NoError(t, err)
		got = append(got, n.ID)
	}
	assert.ElementsMatch(t, []string{"old", "new"}, got)
	assert.Equal(t, []string{"new"}, srv.Members(store.ActiveNodesKey))
	assert.NotEmpty(t, srv.Hash(store.NodeInfoKey("old")), "records are never deleted by expiry")
}

func TestList_NoThresholdNoExpiry(t *testing.T) {
	srv := storetest.Start(t)
	srv.Seed(store.NodeInfoKey("old"), map[string]string{"timestamp": "1"}, "old")
	r := NewReader(srv.Pool(t).Client(), Config{})

	for _, err := range r.List(context.Background()) {
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"old"}, srv.Members(store.ActiveNodesKey))
	assert.NotContains(t, srv.Commands(), "SREM")
}

func TestList_ExpiryFailureDoesNotFailRead(t *testing.T) {
	srv := storetest.Start(t)
	srv.Seed(store.NodeInfoKey("old"), map[string]string{"timestamp": "1"}, "old")
	srv.Fail("SREM", "ERR read only replica")
	r := NewReader(srv.Pool(t).Client(), Config{InactivityThreshold: time.Second})

	var got []string
	for n, err := range r.List(context.Background()) {
		require.NoError(t, err)
		got = append(got, n.ID)
	}
	assert.Equal(t, []string{"old"}, got)
	assert.Contains(t, srv.Commands(), "SREM")
}

func TestList_FetchFailure(t *testing.T) {
	srv := storetest.Start(t)
	seedNodes(srv, 3, 1)
	srv.Fail("HGETALL", "ERR gone")
	r := NewReader(srv.Pool(t).Client(), Config{})

	var gotErr error
	for _, err := range r.List(context.Background()) {
		if err != nil {
			gotErr = err
		}
	}
	require.ErrorIs(t, gotErr, store.ErrServer)
}

func TestList_BreakBoundsFetches(t *testing.T) {
	srv := storetest.Start(t)
	seedNodes(srv, 40, 1)
	r := NewReader(srv.Pool(t).Client(), Config{ListPageSize: 10, ListConcurrency: 2})

	for range r.List(context.Background()) {
		break
	}
	fetches := 0
	for _, c := range srv.Commands() {
		if c == "HGETALL" {
			fetches++
		}
	}
	assert.LessOrEqual(t, fetches, 3)
}
