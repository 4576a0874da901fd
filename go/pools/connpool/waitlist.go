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

import (
	"context"
	"sync"
	"time"

	"github.com/supabase/quackpool/go/tools/list"
)

// handoff is what a waiter receives: either a connection or the error
// that ended its wait.
type handoff[C Connection] struct {
	conn C
	err  error
}

// waiter represents a caller blocked in Acquire.
type waiter[C Connection] struct {
	// ctx is the caller's context, used when the pool has to create a
	// fresh connection on the waiter's behalf.
	ctx context.Context

	// deadline is when the waiter gives up. Creations on its behalf must
	// not outlive it.
	deadline time.Time

	// ready receives exactly one handoff. It is buffered so the pool can
	// deliver while holding its mutex without blocking on the receiver.
	ready chan handoff[C]
}

// waitlist is the FIFO queue of waiters. Like idleStack it relies on the
// pool mutex for synchronization; only the node cache is safe on its own.
type waitlist[C Connection] struct {
	nodes sync.Pool
	list  list.List[waiter[C]]
}

func (wl *waitlist[C]) init() {
	wl.nodes.New = func() any {
		return &list.Element[waiter[C]]{
			Value: waiter[C]{ready: make(chan handoff[C], 1)},
		}
	}
	wl.list.Init()
}

// enqueue adds a waiter for ctx, giving up at deadline, at the back of the
// queue.
func (wl *waitlist[C]) enqueue(ctx context.Context, deadline time.Time) *list.Element[waiter[C]] {
	elem := wl.nodes.Get().(*list.Element[waiter[C]])
	elem.Value.ctx = ctx
	elem.Value.deadline = deadline
	wl.list.PushBackValue(elem)
	return elem
}

// popFront removes and returns the oldest waiter, or nil.
func (wl *waitlist[C]) popFront() *list.Element[waiter[C]] {
	elem := wl.list.Front()
	if elem != nil {
		wl.list.Remove(elem)
	}
	return elem
}

// remove takes elem out of the queue. It returns false if elem was no
// longer queued, which means somebody already popped it and a handoff is
// on its way.
func (wl *waitlist[C]) remove(elem *list.Element[waiter[C]]) bool {
	for e := wl.list.Front(); e != nil; e = e.Next() {
		if e == elem {
			wl.list.Remove(elem)
			return true
		}
	}
	return false
}

// failAll fails every queued waiter with err and empties the queue.
func (wl *waitlist[C]) failAll(err error) int {
	n := 0
	for elem := wl.popFront(); elem != nil; elem = wl.popFront() {
		elem.Value.ready <- handoff[C]{err: err}
		n++
	}
	return n
}

// recycle returns a finished waiter's node to the cache. The waiter must
// have either been removed before anything was sent, or have received its
// handoff.
func (wl *waitlist[C]) recycle(elem *list.Element[waiter[C]]) {
	elem.Value.ctx = nil
	elem.Value.deadline = time.Time{}
	wl.nodes.Put(elem)
}

func (wl *waitlist[C]) waiting() int {
	return wl.list.Len()
}
