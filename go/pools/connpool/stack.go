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

// idleStack is the LIFO stack of idle connections. The most recently
// returned connection is handed out first, which keeps a small working set
// warm under light load.
//
// idleStack has no lock of its own: it is only touched with the pool
// mutex held, together with the waitlist and the counters.
type idleStack[C Connection] struct {
	top   *record[C]
	count int
}

// push adds a record to the top of the stack.
func (s *idleStack[C]) push(rec *record[C]) {
	rec.next = s.top
	rec.parked = true
	s.top = rec
	s.count++
}

// pop removes and returns the record at the top of the stack, or nil if
// the stack is empty.
func (s *idleStack[C]) pop() *record[C] {
	rec := s.top
	if rec == nil {
		return nil
	}
	s.top = rec.next
	rec.next = nil
	rec.parked = false
	s.count--
	return rec
}

// len returns the number of idle records.
func (s *idleStack[C]) len() int {
	return s.count
}
