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

package connpool

import "time"

var monotonicRoot = time.Now()

// monotonicNow returns the current monotonic time as a time.Duration.
// time.Since subtracts monotonic readings directly, so this is immune to
// wall clock jumps.
func monotonicNow() time.Duration {
	return time.Since(monotonicRoot)
}

// record is the pool's metadata for one live connection. Records live in
// the pool's side table keyed by the connection and are dropped when the
// connection is destroyed. All fields are guarded by the pool mutex.
type record[C Connection] struct {
	conn C

	// next links records in the idle stack.
	next *record[C]

	// parked is true while the record sits on the idle stack.
	parked bool

	// createdAt is the monotonic time the connection was created.
	createdAt time.Duration

	// lastUsedAt is the monotonic time the connection was last handed
	// out or put back on the idle stack.
	lastUsedAt time.Duration
}

func newRecord[C Connection](conn C, now time.Duration) *record[C] {
	return &record[C]{
		conn:       conn,
		createdAt:  now,
		lastUsedAt: now,
	}
}

func (r *record[C]) age(now time.Duration) time.Duration {
	return now - r.createdAt
}

func (r *record[C]) idle(now time.Duration) time.Duration {
	return now - r.lastUsedAt
}

func (r *record[C]) touch(now time.Duration) {
	r.lastUsedAt = now
}

// ConnInfo is a snapshot of a pooled connection's record.
type ConnInfo struct {
	// Age is the time since the connection was created.
	Age time.Duration

	// SinceLastUse is the time since the connection was last handed out
	// or returned.
	SinceLastUse time.Duration
}
