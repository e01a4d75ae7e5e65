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

// Package storetest runs an in-process RESP server that understands the
// handful of commands the monitor issues. Tests point a real go-redis
// client at it, so the whole adapter stack is exercised without a Redis.
package storetest

import (
	"crypto/sha1"
	"encoding/hex"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/redcon"

	"golemmonitor/internal/monitor/store"
)

// ScriptFunc emulates a server-side script. It runs with the server lock held.
type ScriptFunc func(tx *Tx, keys, args []string) error

// Server is a tiny in-memory key-value store speaking RESP2.
type Server struct {
	mu       sync.Mutex
	strs     map[string]string
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	scripts  map[string]ScriptFunc // by sha
	handlers map[string]ScriptFunc // by source, survive SCRIPT FLUSH
	failures map[string]string
	delays   map[string]time.Duration
	names    []string
	log      []string

	srv *redcon.Server
	ln  net.Listener
}

// Start listens on a random local port and stops the server on test cleanup.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("storetest listen: %v", err)
	}
	s := &Server{
		strs:     make(map[string]string),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		scripts:  make(map[string]ScriptFunc),
		handlers: make(map[string]ScriptFunc),
		failures: make(map[string]string),
		delays:   make(map[string]time.Duration),
		ln:       ln,
	}
	s.srv = redcon.NewServer(ln.Addr().String(), s.handle,
		func(redcon.Conn) bool { return true },
		func(redcon.Conn, error) {},
	)
	go func() { _ = s.srv.Serve(ln) }()
	t.Cleanup(func() { _ = s.srv.Close() })
	return s
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Pool returns a store pool connected to this server, closed on cleanup.
func (s *Server) Pool(t testing.TB) *store.Pool {
	t.Helper()
	p := store.NewPool(store.Options{Addr: s.Addr(), DialTimeout: time.Second})
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// Fail makes every subsequent command called name reply with msg.
func (s *Server) Fail(name, msg string) {
	s.mu.Lock()
	s.failures[strings.ToUpper(name)] = msg
	s.mu.Unlock()
}

// Delay makes every subsequent command called name sleep for d first.
func (s *Server) Delay(name string, d time.Duration) {
	s.mu.Lock()
	s.delays[strings.ToUpper(name)] = d
	s.mu.Unlock()
}

// Heal removes all injected failures and delays.
func (s *Server) Heal() {
	s.mu.Lock()
	s.failures = make(map[string]string)
	s.delays = make(map[string]time.Duration)
	s.mu.Unlock()
}

// HandleScript registers the behavior EVALSHA runs for src once it is loaded.
func (s *Server) HandleScript(src string, fn ScriptFunc) {
	s.mu.Lock()
	s.handlers[src] = fn
	s.mu.Unlock()
}

// FlushScripts forgets every loaded script, as SCRIPT FLUSH does.
func (s *Server) FlushScripts() {
	s.mu.Lock()
	s.scripts = make(map[string]ScriptFunc)
	s.mu.Unlock()
}

// Hash returns a copy of the hash at key.
func (s *Server) Hash(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out
}

// Get returns the string at key.
func (s *Server) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strs[key]
	return v, ok
}

// Members returns the sorted members of set.
func (s *Server) Members(set string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedMembers(s.sets[set])
}

// ClientNames lists every CLIENT SETNAME seen, in order.
func (s *Server) ClientNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Commands lists the data commands seen, in order, connection setup excluded.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Seed writes a hash and optionally marks id active, bypassing the protocol.
func (s *Server) Seed(key string, fields map[string]string, active string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{s: s}
	for k, v := range fields {
		tx.HSet(key, k, v)
	}
	if active != "" {
		tx.SAdd(store.ActiveNodesKey, active)
	}
}

// Tx gives script emulations access to the data while the lock is held.
type Tx struct{ s *Server }

func (tx *Tx) HSet(key, field, value string) {
	h := tx.s.hashes[key]
	if h == nil {
		h = make(map[string]string)
		tx.s.hashes[key] = h
	}
	h[field] = value
}

func (tx *Tx) SAdd(set, member string) bool {
	m := tx.s.sets[set]
	if m == nil {
		m = make(map[string]struct{})
		tx.s.sets[set] = m
	}
	if _, ok := m[member]; ok {
		return false
	}
	m[member] = struct{}{}
	return true
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}
	name := strings.ToUpper(string(cmd.Args[0]))
	args := make([]string, len(cmd.Args)-1)
	for i, a := range cmd.Args[1:] {
		args[i] = string(a)
	}

	s.mu.Lock()
	d := s.delays[name]
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "HELLO", "PING", "CLIENT", "SELECT":
	default:
		s.log = append(s.log, name)
	}
	if msg, ok := s.failures[name]; ok {
		conn.WriteError(msg)
		return
	}
	switch name {
	case "HELLO":
		conn.WriteError("ERR unknown command 'HELLO'")
	case "PING":
		conn.WriteString("PONG")
	case "CLIENT":
		if len(args) >= 2 && strings.EqualFold(args[0], "SETNAME") {
			s.names = append(s.names, args[1])
		}
		conn.WriteString("OK")
	case "SELECT":
		conn.WriteString("OK")
	default:
		s.exec(conn, name, args)
	}
}

func (s *Server) exec(conn redcon.Conn, name string, args []string) {
	tx := &Tx{s: s}
	switch name {
	case "SET":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		s.strs[args[0]] = args[1]
		conn.WriteString("OK")
	case "GET":
		if len(args) != 1 {
			wrongArgs(conn, name)
			return
		}
		v, ok := s.strs[args[0]]
		if !ok {
			conn.WriteNull()
			return
		}
		conn.WriteBulkString(v)
	case "HMSET", "HSET":
		if len(args) < 3 || len(args)%2 != 1 {
			wrongArgs(conn, name)
			return
		}
		for i := 1; i < len(args); i += 2 {
			tx.HSet(args[0], args[i], args[i+1])
		}
		if name == "HSET" {
			conn.WriteInt((len(args) - 1) / 2)
			return
		}
		conn.WriteString("OK")
	case "HGETALL":
		if len(args) != 1 {
			wrongArgs(conn, name)
			return
		}
		h := s.hashes[args[0]]
		fields := make([]string, 0, len(h))
		for k := range h {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		conn.WriteArray(2 * len(fields))
		for _, k := range fields {
			conn.WriteBulkString(k)
			conn.WriteBulkString(h[k])
		}
	case "SADD":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		n := 0
		for _, m := range args[1:] {
			if tx.SAdd(args[0], m) {
				n++
			}
		}
		conn.WriteInt(n)
	case "SREM":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		n := 0
		for _, m := range args[1:] {
			if _, ok := s.sets[args[0]][m]; ok {
				delete(s.sets[args[0]], m)
				n++
			}
		}
		conn.WriteInt(n)
	case "SMEMBERS":
		if len(args) != 1 {
			wrongArgs(conn, name)
			return
		}
		writeStrings(conn, sortedMembers(s.sets[args[0]]))
	case "DEL":
		n := 0
		for _, k := range args {
			if s.delete(k) {
				n++
			}
		}
		conn.WriteInt(n)
	case "FLUSHALL", "FLUSHDB":
		s.strs = make(map[string]string)
		s.hashes = make(map[string]map[string]string)
		s.sets = make(map[string]map[string]struct{})
		conn.WriteString("OK")
	case "SCAN":
		if len(args) < 1 {
			wrongArgs(conn, name)
			return
		}
		pattern, count := scanOpts(args[1:])
		var keys []string
		for _, k := range s.keys() {
			if ok, _ := path.Match(pattern, k); ok {
				keys = append(keys, k)
			}
		}
		writePage(conn, args[0], keys, count)
	case "SSCAN":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		_, count := scanOpts(args[2:])
		writePage(conn, args[1], sortedMembers(s.sets[args[0]]), count)
	case "SCRIPT":
		if len(args) == 2 && strings.EqualFold(args[0], "LOAD") {
			sum := sha1.Sum([]byte(args[1]))
			sha := hex.EncodeToString(sum[:])
			s.scripts[sha] = s.handlers[args[1]]
			conn.WriteBulkString(sha)
			return
		}
		if len(args) == 1 && strings.EqualFold(args[0], "FLUSH") {
			s.scripts = make(map[string]ScriptFunc)
			conn.WriteString("OK")
			return
		}
		wrongArgs(conn, name)
	case "EVALSHA":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		fn, ok := s.scripts[args[0]]
		if !ok {
			conn.WriteError("NOSCRIPT No matching script. Please use EVAL.")
			return
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 || n > len(args)-2 {
			conn.WriteError("ERR Number of keys can't be greater than number of args")
			return
		}
		if fn == nil {
			conn.WriteError("ERR script has no emulation")
			return
		}
		if err := fn(tx, args[2:2+n], args[2+n:]); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		conn.WriteInt(1)
	default:
		conn.WriteError("ERR unknown command '" + name + "'")
	}
}

func (s *Server) delete(k string) bool {
	_, a := s.strs[k]
	_, b := s.hashes[k]
	_, c := s.sets[k]
	delete(s.strs, k)
	delete(s.hashes, k)
	delete(s.sets, k)
	return a || b || c
}

func (s *Server) keys() []string {
	seen := make(map[string]struct{})
	for k := range s.strs {
		seen[k] = struct{}{}
	}
	for k := range s.hashes {
		seen[k] = struct{}{}
	}
	for k, m := range s.sets {
		if len(m) > 0 {
			seen[k] = struct{}{}
		}
	}
	return sortedMembers(seen)
}

func scanOpts(args []string) (string, int) {
	pattern, count := "*", 10
	for i := 0; i+1 < len(args); i += 2 {
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			pattern = args[i+1]
		case "COUNT":
			if n, err := strconv.Atoi(args[i+1]); err == nil && n > 0 {
				count = n
			}
		}
	}
	return pattern, count
}

// writePage answers a cursor scan. The cursor is an offset into items.
func writePage(conn redcon.Conn, cursor string, items []string, count int) {
	off, err := strconv.Atoi(cursor)
	if err != nil || off < 0 {
		conn.WriteError("ERR invalid cursor")
		return
	}
	if off > len(items) {
		off = len(items)
	}
	end := off + count
	next := end
	if end >= len(items) {
		end = len(items)
		next = 0
	}
	conn.WriteArray(2)
	conn.WriteBulkString(strconv.Itoa(next))
	writeStrings(conn, items[off:end])
}

func writeStrings(conn redcon.Conn, items []string) {
	conn.WriteArray(len(items))
	for _, it := range items {
		conn.WriteBulkString(it)
	}
}

func wrongArgs(conn redcon.Conn, name string) {
	conn.WriteError("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

func sortedMembers(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
