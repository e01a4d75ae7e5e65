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

package updater

import (
	"context"

	"golemmonitor/internal/monitor/store"
)

// MergeScript adds ARGV[1] to the set KEYS[2] and merges the field/value
// pairs that follow into the hash KEYS[1], atomically.
const MergeScript = `redis.call('SADD', KEYS[2], ARGV[1])
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1`

// merge runs MergeScript through its cached handle. An unknown-script
// reply drops the handle, reloads the script and retries once.
func (w *worker) merge(ctx context.Context, req Request) error {
	cmd := store.HMSetCmd(req.StoreKey(), req.Fields)
	args := make([]interface{}, 0, len(cmd)-1)
	args = append(args, req.Key)
	args = append(args, cmd[2:]...)
	keys := []string{req.StoreKey(), store.ActiveNodesKey}

	for attempt := 0; ; attempt++ {
		if w.sha == "" {
			sha, err := w.conn.ScriptLoad(ctx, MergeScript)
			if err != nil {
				return err
			}
			w.sha = sha
		}
		_, err := w.conn.EvalSha(ctx, w.sha, keys, args...)
		if err != nil && store.IsNoScript(err) && attempt == 0 {
			w.u.log.Info().Msg("merge script evicted, reloading")
			w.sha = ""
			continue
		}
		return err
	}
}
