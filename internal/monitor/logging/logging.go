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

// Package logging configures the process-wide zerolog logger and hands out
// per-component children.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLogger zerolog.Logger

// Config selects level, destination and time format.
type Config struct {
	Level      string `yaml:"level"`
	Debug      bool   `yaml:"debug"`
	Output     string `yaml:"output"` // stdout (default), stderr or console
	TimeFormat string `yaml:"time_format"`
}

func init() {
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init replaces the global logger. It fails only on an unknown level name.
func Init(config Config) error {
	level := zerolog.InfoLevel
	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	globalLogger = zerolog.New(writer(config.Output)).
		Level(level).
		With().
		Timestamp().
		Logger()
	log.Logger = globalLogger
	return nil
}

func writer(output string) io.Writer {
	switch output {
	case "stderr":
		return os.Stderr
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	default:
		return os.Stdout
	}
}

// Logger returns the current global logger.
func Logger() zerolog.Logger { return globalLogger }

// WithComponent tags every event with component=name.
func WithComponent(name string) zerolog.Logger {
	return globalLogger.With().Str("component", name).Logger()
}

func Info() *zerolog.Event  { return globalLogger.Info() }
func Warn() *zerolog.Event  { return globalLogger.Warn() }
func Error() *zerolog.Event { return globalLogger.Error() }
func Fatal() *zerolog.Event { return globalLogger.Fatal() }
