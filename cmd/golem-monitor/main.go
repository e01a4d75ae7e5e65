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

// Package main is the entry point of the Golem network monitor.
//
// The process accepts telemetry posted by nodes on /update, keeps one record
// per node in Redis and serves the roster as a CSV dump (/dump) and a JSON
// list (/v1/nodes). All writes go through a single supervised writer that
// owns its own store connection; reads share a pooled client.
//
// Configuration comes from golem-monitor.yaml, GOLEM_MONITOR_* variables and
// flags, in increasing precedence. Try:
//
//	golem-monitor --redis_address 127.0.0.1:6379 --log_output console
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"golemmonitor/internal/monitor/api"
	"golemmonitor/internal/monitor/config"
	"golemmonitor/internal/monitor/logging"
	"golemmonitor/internal/monitor/pingme"
	"golemmonitor/internal/monitor/roster"
	"golemmonitor/internal/monitor/store"
	"golemmonitor/internal/monitor/stream"
	"golemmonitor/internal/monitor/updater"
)

func main() {
	// 1. Configuration and logging.
	cfg, err := config.Load(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Debug: cfg.LogDebug, Output: cfg.LogOutput}); err != nil {
		logging.Fatal().Err(err).Msg("invalid log configuration")
	}
	log := logging.WithComponent("main")

	// 2. Store. A failed ping is not fatal: the writer redials on demand and
	// reads fail per request until the store comes back.
	pool := store.NewPool(store.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer pool.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("redis_address", cfg.RedisAddress).Msg("store not reachable at startup")
	}
	cancelPing()

	// 3. The writer.
	mode, err := updater.ParseMode(cfg.WriteMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid write mode")
	}
	writer := updater.New(updater.PoolDialer{Pool: pool}, updater.Options{
		MailboxSize:  cfg.MailboxSize,
		WriteTimeout: cfg.WriteTimeout,
		Mode:         mode,
	})
	writer.Start()

	// 4. The API server.
	deps := api.Deps{
		Roster: roster.NewReader(pool.Client(), roster.Config{
			InactivityThreshold: cfg.InactivityThreshold,
			PageTimeout:         cfg.ScanPageTimeout,
			FetchTimeout:        cfg.FetchTimeout,
			DumpPageSize:        cfg.DumpPageSize,
			DumpConcurrency:     cfg.DumpConcurrency,
			ListPageSize:        cfg.ListPageSize,
			ListConcurrency:     cfg.ListConcurrency,
		}),
		Writer: writer,
		Chunks: stream.Options{MinChunk: cfg.MinChunk, MaxChunk: cfg.MaxChunk},
		Health: pool.Ping,
	}
	if cfg.EnablePingMe {
		deps.Prober = pingme.NewProber()
	}
	httpServer := api.NewServer(deps).NewHTTPServer(cfg.Address)

	go func() {
		log.Info().
			Str("address", cfg.Address).
			Str("redis_address", cfg.RedisAddress).
			Str("write_mode", mode.String()).
			Msg("golem monitor listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("address", cfg.Address).Msg("could not listen")
		}
	}()

	// 5. Graceful shutdown: stop accepting requests first so no write is
	// queued after the writer is gone.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	writer.Stop()
	log.Info().Int64("writer_restarts", writer.Restarts()).Msg("monitor stopped")
}
