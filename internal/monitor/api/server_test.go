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

package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golemmonitor/internal/monitor/pingme"
	"golemmonitor/internal/monitor/roster"
	"golemmonitor/internal/monitor/store"
	"golemmonitor/internal/monitor/store/storetest"
	"golemmonitor/internal/monitor/updater"
)

type harness struct {
	ts  *httptest.Server
	srv *storetest.Server
	u   *updater.Updater
}

func newHarness(t *testing.T, mods ...func(*Deps)) *harness {
	t.Helper()
	srv := storetest.Start(t)
	pool := srv.Pool(t)
	u := updater.New(updater.PoolDialer{Pool: pool}, updater.Options{})
	u.Start()
	t.Cleanup(u.Stop)

	deps := Deps{
		Roster: roster.NewReader(pool.Client(), roster.Config{}),
		Writer: u,
		Health: pool.Ping,
	}
	for _, m := range mods {
		m(&deps)
	}
	ts := httptest.NewServer(NewServer(deps).Handler())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, srv: srv, u: u}
}

func (h *harness) post(t *testing.T, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func column(name string) int {
	for i, c := range roster.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

const statsBody = `{"proto_ver":1,"data":{"type":"Stats","cliid":"stats-node","timestamp":1543400000,"tasks_requested":314,"known_tasks":7}}`

func TestUpdateThenDump(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/update", statsBody, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, readBody(t, resp))

	resp, err := h.ts.Client().Get(h.ts.URL + "/dump")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/x-csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="golem-stats.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "public, max-age=30", resp.Header.Get("Cache-Control"))
	_, err = http.ParseTime(resp.Header.Get("Last-Modified"))
	require.NoError(t, err)

	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, roster.Columns, records[0])
	row := records[1]
	assert.Equal(t, "stats-node", row[column("node_id")])
	assert.NotEmpty(t, row[column("last_seen")])
	stats := map[string]string{
		"known_tasks":      "7",
		"supported_tasks":  "0",
		"subtasks_success": "0",
		"subtasks_error":   "0",
		"subtasks_timeout": "0",
		"tasks_requested":  "314",
	}
	for i, c := range roster.Columns {
		switch want, ok := stats[c]; {
		case ok:
			assert.Equal(t, want, row[i], c)
		case c == "node_id", c == "last_seen":
		default:
			assert.Empty(t, row[i], c)
		}
	}
}

func TestLegacyAliasAndListRedactsForwardedIP(t *testing.T) {
	h := newHarness(t)

	login := `{"proto_ver":1,"data":{"type":"Login","cliid":"login-node","metadata":{"os":"linux","settings":{"node_name":"alpha"}}}}`
	resp := h.post(t, "/", login, map[string]string{"X-Forwarded-For": "9.9.9.9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, "9.9.9.9", h.srv.Hash(store.NodeInfoKey("login-node"))["ip"])

	resp, err := h.ts.Client().Get(h.ts.URL + "/v1/nodes")
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=30", resp.Header.Get("Cache-Control"))

	var nodes []map[string]string
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "login-node", nodes[0]["node_id"])
	assert.Equal(t, "9.x.x.x", nodes[0]["ip"])
	assert.Equal(t, "alpha", nodes[0]["node_name"])
	assert.Equal(t, "linux", nodes[0]["os"])
	assert.NotContains(t, nodes[0], "start_port")
}

func TestListEmptyRoster(t *testing.T) {
	h := newHarness(t)
	resp, err := h.ts.Client().Get(h.ts.URL + "/v1/nodes")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", readBody(t, resp))
}

func TestUpdate_Malformed(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{`{`, `{"proto_ver":1}`, `{"proto_ver":1,"data":{"type":"Stats"}}`} {
		resp := h.post(t, "/update", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
		assert.Contains(t, readBody(t, resp), "malformed")
	}
	assert.Empty(t, h.srv.Commands())
}

func TestUpdate_UnrecognizedIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/update", `{"proto_ver":1,"data":{"type":"VMSnapshot","cliid":"v"}}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Empty(t, h.srv.Commands())
}

func TestUpdate_P2PSnapshotStoredAsBlob(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/update", `{"proto_ver":1,"data":{"type":"P2PSnapshot","cliid":"p","peers":[1,2]}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	v, ok := h.srv.Get(store.P2PStatsKey("p"))
	require.True(t, ok)
	assert.Contains(t, v, `"peers":[1,2]`)
}

func TestUpdate_StoreFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail("HMSET", "ERR disk full")

	resp := h.post(t, "/update", statsBody, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "disk full")
}

func TestUpdate_StoppedWriter(t *testing.T) {
	h := newHarness(t)
	h.u.Stop()

	resp := h.post(t, "/update", statsBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestDump_FailureBeforeFirstChunk(t *testing.T) {
	h := newHarness(t)
	h.srv.Seed(store.NodeInfoKey("a"), map[string]string{"timestamp": "1"}, "a")
	h.srv.Fail("HGETALL", "ERR injected")

	resp, err := h.ts.Client().Get(h.ts.URL + "/dump")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Disposition"))
	assert.Contains(t, readBody(t, resp), "injected")
}

func TestWriteStream_MidStreamFailureAborts(t *testing.T) {
	s := NewServer(Deps{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := func(yield func([]byte, error) bool) {
			if !yield([]byte("a,b\n"), nil) {
				return
			}
			yield(nil, errors.New("boom"))
		}
		s.writeStream(w, r, chunks, func(h http.Header) { h.Set("Content-Type", "text/x-csv") })
	}))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err)
}

func TestRootRedirect(t *testing.T) {
	h := newHarness(t)
	client := h.ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Get(h.ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/show", resp.Header.Get("Location"))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	resp, err := h.ts.Client().Get(h.ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readBody(t, resp))

	resp = h.post(t, "/update", statsBody, nil)
	resp.Body.Close()
	resp, err = h.ts.Client().Get(h.ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), `monitor_updates_total{type="Stats"}`)

	down := newHarness(t, func(d *Deps) {
		d.Health = func(context.Context) error { return errors.New("store unreachable") }
	})
	resp, err = down.ts.Client().Get(down.ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestPingMe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	h := newHarness(t, func(d *Deps) { d.Prober = pingme.NewProber() })
	form := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	body := fmt.Sprintf("port=%d&timestamp=%d", port, time.Now().Unix())
	resp := h.post(t, "/ping-me", body, form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res pingme.Result
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &res))
	assert.True(t, res.Success)
	require.Len(t, res.PortStatuses, 1)
	assert.Equal(t, "open", res.PortStatuses[0].Description)
	assert.Equal(t, fmt.Sprintf("%d: open", port), res.Description)

	resp = h.post(t, "/ping-me", "ports=1&ports=2&ports=3&ports=4&ports=5&port=6", form)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "too many ports")
}

func TestPingMe_DisabledByDefault(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/ping-me", "port=1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name, xff, remote, want string
	}{
		{"peer only", "", "10.1.2.3:5555", "10.1.2.3"},
		{"forwarded", "9.9.9.9", "10.1.2.3:5555", "9.9.9.9"},
		{"first parseable entry", "junk, 8.8.4.4, 1.1.1.1", "10.1.2.3:5555", "8.8.4.4"},
		{"unparseable falls back", "unknown", "10.1.2.3:5555", "10.1.2.3"},
		{"ipv6 peer", "", "[2001:db8::1]:80", "2001:db8::1"},
		{"mapped v4", "::ffff:7.7.7.7", "", "7.7.7.7"},
		{"nothing", "", "pipe", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/update", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, ClientIP(r))
		})
	}
}
