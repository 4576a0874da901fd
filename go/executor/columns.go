// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"strconv"

	"github.com/supabase/quackpool/go/engine"
)

// DedupeColumns makes column names unique. The first occurrence of a name
// keeps it; later ones become name_1, name_2 and so on, skipping any
// candidate that is already a column name.
func DedupeColumns(names []string) []string {
	if len(names) == 0 {
		return names
	}

	taken := make(map[string]bool, len(names))
	for _, name := range names {
		taken[name] = true
	}

	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	next := make(map[string]int)
	for i, name := range names {
		if !used[name] {
			used[name] = true
			out[i] = name
			continue
		}
		for {
			next[name]++
			candidate := name + "_" + strconv.Itoa(next[name])
			if !taken[candidate] {
				taken[candidate] = true
				out[i] = candidate
				break
			}
		}
	}
	return out
}

// Records pairs every row with the column names. Missing values are nil.
func Records(columns []string, rows []engine.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		rec := make(map[string]any, len(columns))
		for j, col := range columns {
			if j < len(row) {
				rec[col] = row[j]
			} else {
				rec[col] = nil
			}
		}
		out[i] = rec
	}
	return out
}
