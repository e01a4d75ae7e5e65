// telemetry-loadgen posts synthetic node telemetry at a running monitor.
// It reuses HTTP connections (keep-alive) and spreads the requests over a
// fixed number of workers.
//
// Modes:
//   - spread: every request picks one of -clients node ids round-robin
//   - hot:    every request writes the same node id, to exercise concurrent
//     writes to one record
//
// Each node sends Login, Stats and RequestorStats in turn.
//
// Usage examples:
//
//	telemetry-loadgen --base=http://127.0.0.1:8081 --n=20000 --c=32 --clients=500
//	telemetry-loadgen --base=http://127.0.0.1:8081 --mode=hot --n=5000
//
// Prints a one-line summary with duration, throughput and failures.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

type modeType string

const (
	modeSpread modeType = "spread"
	modeHot    modeType = "hot"
)

var kinds = []string{"Login", "Stats", "RequestorStats"}

// body builds the i-th message of node id.
func body(id string, i int) []byte {
	data := map[string]interface{}{
		"cliid":     id,
		"sessid":    "loadgen",
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
	}
	switch kind := kinds[i%len(kinds)]; kind {
	case "Login":
		data["type"] = kind
		data["protocol_versions"] = map[string]interface{}{"p2p": 1337, "task": 27}
		data["metadata"] = map[string]interface{}{
			"os":      "linux",
			"version": "0.18.1",
			"settings": map[string]interface{}{
				"node_name":  "loadgen-" + id[:8],
				"start_port": 40102,
				"end_port":   60103,
				"num_cores":  runtime.NumCPU(),
			},
		}
	case "Stats":
		data["type"] = kind
		data["known_tasks"] = i
		data["tasks_requested"] = i / 3
	default:
		data["type"] = kind
		data["tasks_cnt"] = i
		data["finished_ok_total_time"] = float64(i) * 1.5
	}
	b, _ := json.Marshal(map[string]interface{}{"proto_ver": 1, "data": data})
	return b
}

func main() {
	var (
		base     = pflag.String("base", "http://127.0.0.1:8081", "Base URL including scheme and host")
		path     = pflag.String("path", "/update", "Telemetry path")
		modeS    = pflag.String("mode", string(modeSpread), "Mode: spread|hot")
		clients  = pflag.Int("clients", 100, "Number of synthetic node ids in spread mode")
		N        = pflag.Int("n", 5000, "Total requests to send")
		conc     = pflag.Int("c", 8, "Number of concurrent workers")
		timeout  = pflag.Duration("timeout", 60*time.Second, "Overall timeout for the loadgen run")
		connIdle = pflag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle  = pflag.Int("max_idle", 256, "Max idle connections per host")
	)
	pflag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSpread && m != modeHot {
		fmt.Fprintf(os.Stderr, "unknown --mode=%s (want spread|hot)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 || *clients <= 0 {
		fmt.Fprintln(os.Stderr, "--n, --c and --clients must be > 0")
		os.Exit(2)
	}
	if m == modeHot {
		*clients = 1
	}

	ids := make([]string, *clients)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	url := strings.TrimRight(*base, "/") + "/" + strings.TrimLeft(*path, "/")

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdle,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	per := *N / *conc
	rem := *N - per**conc

	start := time.Now()
	var sent, failed atomic.Int64

	worker := func(id, count int) {
		for i := 0; i < count; i++ {
			if ctx.Err() != nil {
				return
			}
			seq := id*per + i
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body(ids[seq%len(ids)], seq)))
			req.Header.Set("Content-Type", "application/json")
			sent.Add(1)
			resp, err := client.Do(req)
			if err != nil {
				failed.Add(1)
				time.Sleep(200 * time.Microsecond)
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				failed.Add(1)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(sent.Load()) / elapsed.Seconds()
	fmt.Printf("TelemetryLoadGen: mode=%s N=%d c=%d clients=%d Duration=%s Throughput=%.0f req/s Failed=%d\n",
		m, sent.Load(), *conc, len(ids), elapsed.Truncate(time.Millisecond), ops, failed.Load())
	if failed.Load() > 0 {
		os.Exit(1)
	}
}
