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

package roster

import "strings"

// ColumnsVersion changes whenever Columns is reordered or extended.
const ColumnsVersion = 1

// Columns is the public CSV column order.
var Columns = []string{
	"node_id",
	"node_name",
	"version",
	"last_seen",
	"os",
	"os_system",
	"os_release",
	"os_version",
	"os_windows_edition",
	"os_linux_distribution",
	"ip",
	"start_port",
	"end_port",
	"performance_general",
	"performance_blender",
	"performance_lux",
	"allowed_resource_size",
	"allowed_resource_memory",
	"cpu_cores",
	"min_price",
	"max_price",
	"subtasks_success",
	"subtasks_error",
	"subtasks_timeout",
	"p2p_protocol_version",
	"task_protocol_version",
	"tasks_requested",
	"known_tasks",
	"supported_tasks",
	"rs_tasks_cnt",
	"rs_finished_task_cnt",
	"rs_requested_subtasks_cnt",
	"rs_collected_results_cnt",
	"rs_verified_results_cnt",
	"rs_timed_out_subtasks_cnt",
	"rs_not_downloadable_subtasks_cnt",
	"rs_failed_subtasks_cnt",
	"rs_work_offers_cnt",
	"rs_finished_ok_cnt",
	"rs_finished_ok_total_time",
	"rs_finished_with_failures_cnt",
	"rs_finished_with_failures_total_time",
	"rs_failed_cnt",
	"rs_failed_total_time",
}

// Public column name -> store field name, for the columns that differ.
var storeFields = map[string]string{
	"last_seen":               "timestamp",
	"performance_general":     "estimated_performance",
	"performance_lux":         "estimated_lux_performance",
	"performance_blender":     "estimated_blender_performance",
	"allowed_resource_size":   "max_resource_size",
	"allowed_resource_memory": "max_memory_size",
	"cpu_cores":               "num_cores",
	"subtasks_success":        "completed",
	"subtasks_error":          "tasks_with_errors",
	"subtasks_timeout":        "tasks_with_timeout",
	"task_protocol_version":   "protocol_version_task",
	"p2p_protocol_version":    "protocol_version_p2p",
}

var publicNames = func() map[string]string {
	m := make(map[string]string, len(storeFields))
	for pub, st := range storeFields {
		m[st] = pub
	}
	return m
}()

// StoreField maps a public column name to the hash field it is read from.
func StoreField(column string) string {
	if f, ok := storeFields[column]; ok {
		return f
	}
	return column
}

// PublicName maps a hash field to the name it is published under.
func PublicName(field string) string {
	if n, ok := publicNames[field]; ok {
		return n
	}
	return field
}

// Obfuscate keeps only the first dot-separated component of an address:
// "1.2.3.4" becomes "1.x.x.x". Values without a dot become "x.x.x.x".
func Obfuscate(ip string) string {
	head, _, found := strings.Cut(ip, ".")
	if !found {
		return "x.x.x.x"
	}
	return head + ".x.x.x"
}
