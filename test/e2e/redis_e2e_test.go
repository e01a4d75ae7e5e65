//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"
)

// TestRedisScriptModeE2E runs the writer in script mode and checks the
// stored record and membership directly in Redis.
func TestRedisScriptModeE2E(t *testing.T) {
	rc := requireRedis(t)
	id := newNodeID(t, rc)
	rs := buildAndStartServer(t, "--write_mode=script")

	if !waitForLog(rs.logLinesC, `"write_mode":"script"`, time.Second) {
		t.Log("startup line with write_mode not seen; continuing")
	}
	postTelemetry(t, rs, "/update", fmt.Sprintf(`{"proto_ver":1,"data":{"type":"Stats","cliid":%q,"tasks_requested":7}}`, id), nil)
	postTelemetry(t, rs, "/update", fmt.Sprintf(`{"proto_ver":1,"data":{"type":"P2PSnapshot","cliid":%q,"peers":[]}}`, id), nil)

	ctx := context.Background()
	got, err := rc.HGet(ctx, "nodeinfo."+id, "tasks_requested").Result()
	if err != nil {
		t.Fatalf("redis HGET failed: %v", err)
	}
	if got != "7" {
		t.Fatalf("tasks_requested=%q want 7", got)
	}
	if ok, _ := rc.SIsMember(ctx, "active_nodes", id).Result(); !ok {
		t.Fatalf("node not in active_nodes")
	}
	blob, err := rc.Get(ctx, "p2pstats."+id).Result()
	if err != nil || blob == "" {
		t.Fatalf("p2pstats blob missing: %v", err)
	}
}

// TestRedisLazyExpiryE2E ages a record past the inactivity threshold and
// checks that listing drops it from the active set but keeps its record.
func TestRedisLazyExpiryE2E(t *testing.T) {
	rc := requireRedis(t)
	id := newNodeID(t, rc)
	rs := buildAndStartServer(t, "--inactivity_threshold=1h")

	postTelemetry(t, rs, "/update", fmt.Sprintf(`{"proto_ver":1,"data":{"type":"Stats","cliid":%q}}`, id), nil)

	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	if err := rc.HSet(ctx, "nodeinfo."+id, "timestamp", strconv.FormatInt(old, 10)).Err(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(rs.baseURL + "/v1/nodes")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if ok, _ := rc.SIsMember(ctx, "active_nodes", id).Result(); ok {
		t.Fatalf("stale node still active after listing")
	}
	if n, _ := rc.Exists(ctx, "nodeinfo."+id).Result(); n != 1 {
		t.Fatalf("record of expired node was deleted")
	}
}
