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

package telemetry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"golemmonitor/internal/monitor/store"
	"golemmonitor/internal/monitor/updater"
)

// Settings keys copied into the record as is.
var settingsFields = []string{
	"node_name",
	"start_port",
	"end_port",
	"estimated_performance",
	"estimated_blender_performance",
	"estimated_lux_performance",
	"max_resource_size",
	"max_memory_size",
	"num_cores",
	"min_price",
	"max_price",
}

var osInfoFields = []string{"system", "release", "version", "windows_edition", "linux_distribution"}

// Normalize maps a decoded message onto store writes. The record timestamp
// is always now; the client's own timestamp is kept only for reference.
// sourceIP is used for Login and Logout when the client did not report an
// address. Unrecognized messages produce no writes.
func Normalize(msg *Message, sourceIP string, now time.Time) []updater.Request {
	fields := map[string]string{
		"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
	}
	if msg.ClientTimestamp != "" {
		fields["client_timestamp"] = msg.ClientTimestamp
	}

	switch b := msg.Body.(type) {
	case *Login:
		sessionFields(fields, msg, &b.Session, sourceIP)
	case *Logout:
		sessionFields(fields, msg, &b.Session, sourceIP)
	case *Stats:
		fields["known_tasks"] = u64(b.KnownTasks)
		fields["supported_tasks"] = u64(b.SupportedTasks)
		fields["completed"] = u64(b.ComputedTasks)
		fields["tasks_with_errors"] = u64(b.TasksWithErrors)
		fields["tasks_with_timeout"] = u64(b.TasksWithTimeout)
		fields["tasks_requested"] = u64(b.TasksRequested)
	case *RequestorStats:
		requestorFields(fields, b)
	case *P2PSnapshot:
		return []updater.Request{{
			Collection: store.P2PStatsCollection,
			Key:        msg.ClientID,
			Value:      string(b.Raw),
		}}
	default:
		return nil
	}
	return []updater.Request{{
		Collection: store.NodeInfoCollection,
		Key:        msg.ClientID,
		Fields:     fields,
	}}
}

func sessionFields(fields map[string]string, msg *Message, s *Session, sourceIP string) {
	if msg.SessionID != "" {
		fields["sessid"] = msg.SessionID
	}
	switch {
	case msg.IP != "":
		fields["ip"] = msg.IP
	case sourceIP != "":
		fields["ip"] = sourceIP
	}
	if s.GPUSupported != nil {
		fields["gpu_supported"] = strconv.FormatBool(*s.GPUSupported)
	}
	for name, raw := range s.ProtocolVersions {
		if v, ok := scalar(raw); ok {
			fields["protocol_version_"+name] = v
		}
	}

	m := s.Metadata
	if m == nil {
		return
	}
	setString(fields, "net", m.Net)
	setString(fields, "os", m.OS)
	setString(fields, "version", m.Version)
	for _, k := range osInfoFields {
		if v, ok := scalar(m.OSInfo[k]); ok {
			fields["os_"+k] = v
		}
	}
	if m.Settings != nil {
		for _, k := range settingsFields {
			if v, ok := scalar(m.Settings.Fields[k]); ok {
				fields[k] = v
			}
		}
	}
}

func requestorFields(fields map[string]string, r *RequestorStats) {
	fields["rs_tasks_cnt"] = u64(r.TasksCnt)
	fields["rs_finished_task_cnt"] = u64(r.FinishedTaskCnt)
	fields["rs_requested_subtasks_cnt"] = u64(r.RequestedSubtasksCnt)
	fields["rs_collected_results_cnt"] = u64(r.CollectedResultsCnt)
	fields["rs_verified_results_cnt"] = u64(r.VerifiedResultsCnt)
	fields["rs_timed_out_subtasks_cnt"] = u64(r.TimedOutSubtasksCnt)
	fields["rs_not_downloadable_subtasks_cnt"] = u64(r.NotDownloadableSubtasksCnt)
	fields["rs_failed_subtasks_cnt"] = u64(r.FailedSubtasksCnt)
	fields["rs_work_offers_cnt"] = u64(r.WorkOffersCnt)
	fields["rs_finished_ok_cnt"] = u64(r.FinishedOkCnt)
	fields["rs_finished_ok_total_time"] = f64(r.FinishedOkTotalTime)
	fields["rs_finished_with_failures_cnt"] = u64(r.FinishedWithFailuresCnt)
	fields["rs_finished_with_failures_total_time"] = f64(r.FinishedWithFailuresTotalTime)
	fields["rs_failed_cnt"] = u64(r.FailedCnt)
	fields["rs_failed_total_time"] = f64(r.FailedTotalTime)
}

// scalar renders a JSON value as a field string: strings unquoted, numbers
// and booleans as written, arrays and objects compacted. null and absent
// values yield false.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", false
	}
	return buf.String(), true
}

func setString(fields map[string]string, key string, v *string) {
	if v != nil {
		fields[key] = *v
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func f64(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
