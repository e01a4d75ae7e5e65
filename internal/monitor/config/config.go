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

// Package config loads the monitor configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// YAML file, GOLEM_MONITOR_* environment variables, command-line flags.
// Every key has the same name in all three external sources, e.g.
// redis_address in YAML, GOLEM_MONITOR_REDIS_ADDRESS in the environment and
// --redis_address on the command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"golemmonitor/internal/monitor/updater"
)

// DefaultFile is read when present and no --config is given.
const DefaultFile = "golem-monitor.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GOLEM_MONITOR_"

// Config is the full process configuration.
type Config struct {
	Address       string `yaml:"address"`
	RedisAddress  string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// InactivityThreshold enables lazy expiry of active nodes; 0 disables it.
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`

	WriteMode   string `yaml:"write_mode"`
	MailboxSize int    `yaml:"mailbox_size"`

	LogLevel  string `yaml:"log_level"`
	LogDebug  bool   `yaml:"log_debug"`
	LogOutput string `yaml:"log_output"`

	ScanPageTimeout time.Duration `yaml:"scan_page_timeout"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`

	DumpPageSize    int `yaml:"dump_page_size"`
	DumpConcurrency int `yaml:"dump_concurrency"`
	ListPageSize    int `yaml:"list_page_size"`
	ListConcurrency int `yaml:"list_concurrency"`

	MinChunk int `yaml:"min_chunk"`
	MaxChunk int `yaml:"max_chunk"`

	EnablePingMe bool `yaml:"enable_pingme"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Address:         "0.0.0.0:8081",
		RedisAddress:    "127.0.0.1:6379",
		WriteMode:       "direct",
		MailboxSize:     256,
		LogLevel:        "info",
		LogOutput:       "stdout",
		ScanPageTimeout: 2 * time.Second,
		FetchTimeout:    5 * time.Second,
		WriteTimeout:    5 * time.Second,
		DumpPageSize:    10,
		DumpConcurrency: 2,
		ListPageSize:    10,
		ListConcurrency: 50,
		MinChunk:        8 << 10,
		MaxChunk:        64 << 10,
		EnablePingMe:    true,
	}
}

func bindFlags(flags *pflag.FlagSet, c *Config) {
	d := Default()
	flags.StringVar(&c.Address, "address", d.Address, "HTTP listen address")
	flags.StringVar(&c.RedisAddress, "redis_address", d.RedisAddress, "Redis host:port")
	flags.StringVar(&c.RedisPassword, "redis_password", d.RedisPassword, "Redis password")
	flags.IntVar(&c.RedisDB, "redis_db", d.RedisDB, "Redis database number")
	flags.DurationVar(&c.InactivityThreshold, "inactivity_threshold", d.InactivityThreshold, "Drop nodes from the active set after this long without updates (0 disables)")
	flags.StringVar(&c.WriteMode, "write_mode", d.WriteMode, "Store write strategy: direct or script")
	flags.IntVar(&c.MailboxSize, "mailbox_size", d.MailboxSize, "Pending writes buffered ahead of the writer")
	flags.StringVar(&c.LogLevel, "log_level", d.LogLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&c.LogDebug, "log_debug", d.LogDebug, "Shorthand for log_level=debug")
	flags.StringVar(&c.LogOutput, "log_output", d.LogOutput, "Log destination: stdout, stderr or console")
	flags.DurationVar(&c.ScanPageTimeout, "scan_page_timeout", d.ScanPageTimeout, "Timeout of one SCAN/SSCAN page")
	flags.DurationVar(&c.FetchTimeout, "fetch_timeout", d.FetchTimeout, "Timeout of one record fetch")
	flags.DurationVar(&c.WriteTimeout, "write_timeout", d.WriteTimeout, "Timeout of one telemetry write")
	flags.IntVar(&c.DumpPageSize, "dump_page_size", d.DumpPageSize, "Keys per SCAN page for /dump")
	flags.IntVar(&c.DumpConcurrency, "dump_concurrency", d.DumpConcurrency, "Key batches fetched concurrently for /dump")
	flags.IntVar(&c.ListPageSize, "list_page_size", d.ListPageSize, "Members per SSCAN page for /v1/nodes")
	flags.IntVar(&c.ListConcurrency, "list_concurrency", d.ListConcurrency, "Record fetches in flight for /v1/nodes")
	flags.IntVar(&c.MinChunk, "min_chunk", d.MinChunk, "Bytes buffered before a response chunk is sent")
	flags.IntVar(&c.MaxChunk, "max_chunk", d.MaxChunk, "Upper bound of a response chunk")
	flags.BoolVar(&c.EnablePingMe, "enable_pingme", d.EnablePingMe, "Serve POST /ping-me")
}

// Load builds the configuration from args (without the program name) and the
// environment as seen through getenv.
func Load(args []string, getenv func(string) string, stderr io.Writer) (*Config, error) {
	cfg := Default()
	flags := pflag.NewFlagSet("golem-monitor", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	bindFlags(flags, cfg)
	configPath := flags.String("config", "", "YAML configuration file (default "+DefaultFile+" when present)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Remember what the command line set, then rebuild from the bottom up.
	cli := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			cli[f.Name] = f.Value.String()
		}
	})
	*cfg = *Default()

	if err := loadFile(cfg, *configPath); err != nil {
		return nil, err
	}

	var envErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || envErr != nil {
			return
		}
		name := EnvName(f.Name)
		if v := getenv(name); v != "" {
			if err := f.Value.Set(v); err != nil {
				envErr = fmt.Errorf("%s: %w", name, err)
			}
		}
	})
	if envErr != nil {
		return nil, envErr
	}

	for name, v := range cli {
		if err := flags.Set(name, v); err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvName is the environment variable overriding key.
func EnvName(key string) string { return EnvPrefix + strings.ToUpper(key) }

func loadFile(cfg *Config, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address is empty"))
	}
	if c.RedisAddress == "" {
		errs = append(errs, errors.New("redis_address is empty"))
	}
	if c.InactivityThreshold < 0 {
		errs = append(errs, errors.New("inactivity_threshold is negative"))
	}
	if _, err := updater.ParseMode(c.WriteMode); err != nil {
		errs = append(errs, err)
	}
	positive := []struct {
		name string
		v    int
	}{
		{"mailbox_size", c.MailboxSize},
		{"dump_page_size", c.DumpPageSize},
		{"dump_concurrency", c.DumpConcurrency},
		{"list_page_size", c.ListPageSize},
		{"list_concurrency", c.ListConcurrency},
		{"min_chunk", c.MinChunk},
		{"max_chunk", c.MaxChunk},
		{"scan_page_timeout", int(c.ScanPageTimeout)},
		{"fetch_timeout", int(c.FetchTimeout)},
		{"write_timeout", int(c.WriteTimeout)},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.MinChunk > c.MaxChunk {
		errs = append(errs, errors.New("min_chunk exceeds max_chunk"))
	}
	return errors.Join(errs...)
}
