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

// Package pingme checks whether a node's advertised ports accept TCP
// connections from the outside. Nodes call it to learn if they are reachable.
package pingme

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"golemmonitor/internal/monitor/logging"
)

const (
	MaxPorts       = 5
	DefaultTimeout = 5 * time.Second
)

var (
	ErrTooManyPorts = errors.New("too many ports")
	ErrBadSource    = errors.New("source address not valid")
)

// Request is the decoded form body of a ping-me call.
type Request struct {
	// Timestamp is the caller's clock in fractional unix seconds.
	Timestamp float64
	Port      *uint16
	Ports     []uint16
}

// AllPorts returns Ports followed by Port, if set.
func (r Request) AllPorts() []uint16 {
	out := append([]uint16(nil), r.Ports...)
	if r.Port != nil {
		out = append(out, *r.Port)
	}
	return out
}

// ParseForm decodes an url-encoded body. Values that do not parse are
// dropped, as are unknown keys.
func ParseForm(body string, log zerolog.Logger) Request {
	// ParseQuery keeps every pair it could decode alongside the first error.
	vals, _ := url.ParseQuery(body)

	var req Request
	for _, v := range vals["timestamp"] {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			req.Timestamp = t
		}
	}
	for _, v := range vals["ports"] {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			req.Ports = append(req.Ports, uint16(p))
		}
	}
	if v := vals["port"]; len(v) > 0 {
		if p, err := strconv.ParseUint(v[len(v)-1], 10, 16); err == nil {
			port := uint16(p)
			req.Port = &port
		}
	}
	for key, v := range vals {
		switch key {
		case "timestamp", "ports", "port":
		default:
			log.Debug().Str("key", key).Strs("values", v).Msg("unknown ping-me param")
		}
	}
	return req
}

type PortStatus struct {
	Port        uint16 `json:"port"`
	IsOpen      bool   `json:"is_open"`
	Description string `json:"description"`
}

type Result struct {
	Success      bool         `json:"success"`
	Description  string       `json:"description"`
	PortStatuses []PortStatus `json:"port_statuses"`
	// TimeDiff is server time minus the caller's timestamp, in seconds.
	TimeDiff float64 `json:"time_diff"`
}

// DialFunc opens a TCP connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober runs port checks.
type Prober struct {
	Timeout time.Duration
	Dial    DialFunc
	Now     func() time.Time
	log     zerolog.Logger
}

func NewProber() *Prober {
	var d net.Dialer
	return &Prober{
		Timeout: DefaultTimeout,
		Dial:    d.DialContext,
		Now:     time.Now,
		log:     logging.WithComponent("pingme"),
	}
}

// Logger exposes the component logger for form parsing.
func (p *Prober) Logger() zerolog.Logger { return p.log }

// Check probes every requested port on source concurrently and summarizes
// the outcome. Success is true only if every port is open.
func (p *Prober) Check(ctx context.Context, source string, req Request) (*Result, error) {
	received := p.Now()
	ports := req.AllPorts()
	if len(ports) > MaxPorts {
		return nil, ErrTooManyPorts
	}
	addr, err := netip.ParseAddr(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadSource, source)
	}

	statuses := make([]PortStatus, len(ports))
	var g errgroup.Group
	for i, port := range ports {
		g.Go(func() error {
			statuses[i] = p.probe(ctx, addr, port)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Success: true, PortStatuses: statuses, TimeDiff: timeDiff(received, req.Timestamp)}
	lines := make([]string, len(statuses))
	for i, st := range statuses {
		res.Success = res.Success && st.IsOpen
		lines[i] = fmt.Sprintf("%d: %s", st.Port, st.Description)
	}
	res.Description = strings.Join(lines, "\n")
	p.log.Debug().Str("source", source).Bool("success", res.Success).Msg("ping-me")
	return res, nil
}

func (p *Prober) probe(ctx context.Context, addr netip.Addr, port uint16) PortStatus {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	st := PortStatus{Port: port}
	conn, err := p.Dial(ctx, "tcp", netip.AddrPortFrom(addr, port).String())
	switch {
	case err == nil:
		_ = conn.Close()
		st.IsOpen, st.Description = true, "open"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		st.Description = "timeout"
	default:
		st.Description = "unreachable"
	}
	return st
}

// timeDiff truncates both clocks to milliseconds before subtracting.
func timeDiff(now time.Time, ts float64) float64 {
	client := time.UnixMilli(int64(ts * 1000))
	return float64(now.UnixMilli()-client.UnixMilli()) / 1000
}
