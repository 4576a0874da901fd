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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/quackpool/go/tools/list"
)

func TestWaitlistFIFO(t *testing.T) {
	var wl waitlist[*mockConnection]
	wl.init()

	a := wl.enqueue(context.Background(), time.Time{})
	b := wl.enqueue(context.Background(), time.Time{})
	c := wl.enqueue(context.Background(), time.Time{})
	assert.Equal(t, 3, wl.waiting())

	assert.Same(t, a, wl.popFront())
	assert.Same(t, b, wl.popFront())
	assert.Same(t, c, wl.popFront())
	assert.Nil(t, wl.popFront())
}

func TestWaitlistRemove(t *testing.T) {
	var wl waitlist[*mockConnection]
	wl.init()

	a := wl.enqueue(context.Background(), time.Time{})
	b := wl.enqueue(context.Background(), time.Time{})

	assert.True(t, wl.remove(a))
	assert.False(t, wl.remove(a), "already removed")
	assert.Equal(t, 1, wl.waiting())

	popped := wl.popFront()
	assert.Same(t, b, popped)
	assert.False(t, wl.remove(popped), "popped waiters are no longer queued")
}

func TestWaitlistFailAll(t *testing.T) {
	var wl waitlist[*mockConnection]
	wl.init()

	a := wl.enqueue(context.Background(), time.Time{})
	b := wl.enqueue(context.Background(), time.Time{})

	assert.Equal(t, 2, wl.failAll(ErrPoolClosed))
	assert.Equal(t, 0, wl.waiting())

	for _, elem := range []*list.Element[waiter[*mockConnection]]{a, b} {
		h := <-elem.Value.ready
		assert.ErrorIs(t, h.err, ErrPoolClosed)
		assert.Nil(t, h.conn)
	}
}

func TestWaitlistHandoffIsBuffered(t *testing.T) {
	var wl waitlist[*mockConnection]
	wl.init()

	elem := wl.enqueue(context.Background(), time.Time{})
	conn := &mockConnection{id: 7}

	// Delivery must not block even though nobody is receiving yet.
	elem.Value.ready <- handoff[*mockConnection]{conn: conn}
	h := <-elem.Value.ready
	require.NoError(t, h.err)
	assert.Same(t, conn, h.conn)

	wl.popFront()
	wl.recycle(elem)
	assert.Nil(t, elem.Value.ctx)
}
