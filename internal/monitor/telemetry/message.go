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

// Package telemetry decodes the versioned envelopes posted by nodes and
// turns them into store writes.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks input the client must fix. Unknown message types are
// not malformed.
var ErrMalformed = errors.New("malformed telemetry")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Envelope is the outer, versioned wrapper.
type Envelope struct {
	ProtoVer uint64          `json:"proto_ver"`
	Data     json.RawMessage `json:"data"`
}

// Message is a decoded telemetry message. Body is one of *Login, *Logout,
// *Stats, *RequestorStats, *P2PSnapshot or *Unrecognized.
type Message struct {
	ProtoVer        uint64
	ClientID        string
	SessionID       string
	ClientTimestamp string // as sent, informational only
	Type            string
	IP              string
	Body            interface{}
}

// Session carries the fields shared by Login and Logout.
type Session struct {
	Metadata         *Metadata                  `json:"metadata"`
	ProtocolVersions map[string]json.RawMessage `json:"protocol_versions"`
	GPUSupported     *bool                      `json:"gpu_supported"`
}

type Login struct{ Session }
type Logout struct{ Session }

// Metadata describes the node's environment and advertised settings.
type Metadata struct {
	Net      *string                    `json:"net"`
	OS       *string                    `json:"os"`
	Version  *string                    `json:"version"`
	OSInfo   map[string]json.RawMessage `json:"os_info"`
	Settings *Settings                  `json:"settings"`
}

// Settings is the node's advertised configuration. On the wire it is either
// an object or a string holding {"type": ..., "obj": {...}}.
type Settings struct {
	Fields map[string]json.RawMessage
}

func (s *Settings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		var env struct {
			Type string          `json:"type"`
			Obj  json.RawMessage `json:"obj"`
		}
		if err := json.Unmarshal([]byte(inner), &env); err != nil {
			return fmt.Errorf("settings string: %w", err)
		}
		b = env.Obj
	}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		s.Fields = nil
		return nil
	}
	return json.Unmarshal(b, &s.Fields)
}

// Stats are task counters of a providing node.
type Stats struct {
	KnownTasks       uint64 `json:"known_tasks"`
	SupportedTasks   uint64 `json:"supported_tasks"`
	ComputedTasks    uint64 `json:"computed_tasks"`
	TasksWithErrors  uint64 `json:"tasks_with_errors"`
	TasksWithTimeout uint64 `json:"tasks_with_timeout"`
	TasksRequested   uint64 `json:"tasks_requested"`
}

// RequestorStats are counters of a requesting node.
type RequestorStats struct {
	TasksCnt                      uint64  `json:"tasks_cnt"`
	FinishedTaskCnt               uint64  `json:"finished_task_cnt"`
	RequestedSubtasksCnt          uint64  `json:"requested_subtasks_cnt"`
	CollectedResultsCnt           uint64  `json:"collected_results_cnt"`
	VerifiedResultsCnt            uint64  `json:"verified_results_cnt"`
	TimedOutSubtasksCnt           uint64  `json:"timed_out_subtasks_cnt"`
	NotDownloadableSubtasksCnt    uint64  `json:"not_downloadable_subtasks_cnt"`
	FailedSubtasksCnt             uint64  `json:"failed_subtasks_cnt"`
	WorkOffersCnt                 uint64  `json:"work_offers_cnt"`
	FinishedOkCnt                 uint64  `json:"finished_ok_cnt"`
	FinishedOkTotalTime           float64 `json:"finished_ok_total_time"`
	FinishedWithFailuresCnt       uint64  `json:"finished_with_failures_cnt"`
	FinishedWithFailuresTotalTime float64 `json:"finished_with_failures_total_time"`
	FailedCnt                     uint64  `json:"failed_cnt"`
	FailedTotalTime               float64 `json:"failed_total_time"`
}

// P2PSnapshot is stored verbatim.
type P2PSnapshot struct {
	Raw json.RawMessage
}

// Unrecognized is any message type this service does not store.
type Unrecognized struct {
	Type string
}

type header struct {
	CliID     *string     `json:"cliid"`
	SessID    *string     `json:"sessid"`
	Timestamp json.Number `json:"timestamp"`
	Type      *string     `json:"type"`
	IP        *string     `json:"ip"`
}

// Decode parses one posted body. Errors wrap ErrMalformed.
func Decode(body []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed("envelope: %v", err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, malformed("missing data")
	}

	var h header
	if err := json.Unmarshal(env.Data, &h); err != nil {
		return nil, malformed("data: %v", err)
	}
	if h.Type == nil || *h.Type == "" {
		return nil, malformed("missing type")
	}
	if h.CliID == nil || *h.CliID == "" {
		return nil, malformed("missing cliid")
	}
	msg := &Message{
		ProtoVer:        env.ProtoVer,
		ClientID:        *h.CliID,
		ClientTimestamp: h.Timestamp.String(),
		Type:            *h.Type,
	}
	if h.SessID != nil {
		msg.SessionID = *h.SessID
	}
	if h.IP != nil {
		msg.IP = *h.IP
	}

	var err error
	switch msg.Type {
	case "Login":
		b := &Login{}
		err = json.Unmarshal(env.Data, b)
		msg.Body = b
	case "Logout":
		b := &Logout{}
		err = json.Unmarshal(env.Data, b)
		msg.Body = b
	case "Stats":
		b := &Stats{}
		err = json.Unmarshal(env.Data, b)
		msg.Body = b
	case "RequestorStats":
		b := &RequestorStats{}
		err = json.Unmarshal(env.Data, b)
		msg.Body = b
	case "P2PSnapshot":
		msg.Body = &P2PSnapshot{Raw: append(json.RawMessage(nil), env.Data...)}
	default:
		msg.Body = &Unrecognized{Type: msg.Type}
	}
	if err != nil {
		return nil, malformed("%s: %v", msg.Type, err)
	}
	return msg, nil
}
