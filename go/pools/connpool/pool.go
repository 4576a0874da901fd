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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/supabase/quackpool/go/tools/list"
)

const (
	// DefaultSize is the default maximum number of connections.
	DefaultSize = 4

	// DefaultAcquireTimeout is the default time Acquire waits for a
	// connection when the pool is at capacity.
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultMaxWaitingRequests is the default waitlist bound.
	DefaultMaxWaitingRequests = 100

	// DefaultCloseGracePeriod is how long Close waits for connection
	// creations that were already in flight.
	DefaultCloseGracePeriod = 5 * time.Second
)

// Config holds configuration for the connection pool.
type Config[C Connection] struct {
	// Name identifies the pool in logs and metrics.
	Name string

	// Size is the maximum number of live connections.
	// If 0, defaults to DefaultSize.
	Size int

	// AcquireTimeout bounds how long Acquire waits in the queue.
	// If 0, defaults to DefaultAcquireTimeout.
	AcquireTimeout time.Duration

	// MaxWaitingRequests bounds the waitlist. An Acquire that would
	// make the queue longer fails with ErrQueueFull.
	// If 0, defaults to DefaultMaxWaitingRequests.
	MaxWaitingRequests int

	// MaxLifetime is the maximum age of a connection.
	// If 0, connections are never recycled due to age.
	MaxLifetime time.Duration

	// IdleTimeout is how long a connection may go unused.
	// If 0, connections are never recycled due to idle time.
	IdleTimeout time.Duration

	// Setup runs once against each new connection before any caller
	// sees it.
	Setup SetupFunc[C]

	// CloseGracePeriod bounds how long Close waits for in-flight
	// creations. If 0, defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration

	// Logger for pool operations. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics receives connection counts, wait times and timeouts.
	Metrics Metrics
}

// Pool is a bounded pool of connections.
//
// The idle stack, the waitlist, the record table and the counters are
// guarded by a single mutex. Connection creation, destruction and the
// caller's wait all happen with the mutex released.
type Pool[C Connection] struct {
	name             string
	logger           *slog.Logger
	metrics          Metrics
	connect          Connector[C]
	setup            SetupFunc[C]
	size             int
	acquireTimeout   time.Duration
	maxWaiting       int
	maxLifetime      time.Duration
	idleTimeout      time.Duration
	closeGracePeriod time.Duration

	// mu protects everything below.
	mu      sync.Mutex
	idle    idleStack[C]
	waiters waitlist[C]

	// records maps every live connection, idle or checked out, to its
	// metadata. Destroyed connections are removed.
	records map[C]*record[C]

	// total counts live connections plus reserved creation slots.
	total int

	// pending counts creations in flight; creating lets Close wait on them.
	pending  int
	creating sync.WaitGroup

	closed bool
}

// NewPool creates a pool that opens connections with connect.
func NewPool[C Connection](connect Connector[C], cfg Config[C]) *Pool[C] {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.MaxWaitingRequests <= 0 {
		cfg.MaxWaitingRequests = DefaultMaxWaitingRequests
	}
	if cfg.CloseGracePeriod <= 0 {
		cfg.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool[C]{
		name:             cfg.Name,
		logger:           logger.With("pool", cfg.Name),
		metrics:          cfg.Metrics,
		connect:          connect,
		setup:            cfg.Setup,
		size:             cfg.Size,
		acquireTimeout:   cfg.AcquireTimeout,
		maxWaiting:       cfg.MaxWaitingRequests,
		maxLifetime:      cfg.MaxLifetime,
		idleTimeout:      cfg.IdleTimeout,
		closeGracePeriod: cfg.CloseGracePeriod,
		records:          make(map[C]*record[C]),
	}
	p.waiters.init()
	return p
}

// Name returns the pool name.
func (p *Pool[C]) Name() string {
	return p.name
}

// Acquire returns a connection for the caller's exclusive use. It must be
// handed back with Release.
//
// Acquire fails with ErrPoolClosed once Close has started, ErrQueueFull if
// the waitlist is full, ErrAcquireTimeout if nothing became available in
// time, the context's cause if ctx ends first, or a creation/setup error.
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var zero C
	now := monotonicNow()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}

	// Most recently returned first. Stale connections are destroyed and
	// the scan continues.
	var expired []C
	for rec := p.idle.pop(); rec != nil; rec = p.idle.pop() {
		if p.lifetimeExpired(rec, now) || p.idleExpired(rec, now) {
			delete(p.records, rec.conn)
			p.total--
			expired = append(expired, rec.conn)
			continue
		}
		rec.touch(now)
		p.mu.Unlock()

		p.destroyAll(ctx, expired, stateIdle)
		p.metrics.addConns(ctx, -1, p.name, stateIdle)
		p.metrics.addConns(ctx, 1, p.name, stateUsed)
		return rec.conn, nil
	}

	if p.total < p.size {
		p.reserveLocked()
		p.mu.Unlock()

		p.destroyAll(ctx, expired, stateIdle)
		return p.create(ctx)
	}

	if p.waiters.waiting() >= p.maxWaiting {
		waiting := p.waiters.waiting()
		p.mu.Unlock()

		p.destroyAll(ctx, expired, stateIdle)
		return zero, fmt.Errorf("%w (%d waiting)", ErrQueueFull, waiting)
	}

	elem := p.waiters.enqueue(ctx, time.Now().Add(p.acquireTimeout))
	p.mu.Unlock()

	p.destroyAll(ctx, expired, stateIdle)
	return p.wait(ctx, elem)
}

// wait blocks until elem receives a handoff, the acquire timeout fires, or
// ctx ends.
func (p *Pool[C]) wait(ctx context.Context, elem *list.Element[waiter[C]]) (C, error) {
	var zero C
	start := time.Now()
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	var (
		cause    error
		timedOut bool
	)
	select {
	case h := <-elem.Value.ready:
		p.waiters.recycle(elem)
		p.metrics.recordWait(ctx, time.Since(start).Seconds(), p.name)
		return h.conn, h.err
	case <-timer.C:
		timedOut = true
		cause = fmt.Errorf("%w after %s", ErrAcquireTimeout, p.acquireTimeout)
	case <-ctx.Done():
		cause = context.Cause(ctx)
	}

	p.mu.Lock()
	removed := p.waiters.remove(elem)
	p.mu.Unlock()

	fail := func() (C, error) {
		if timedOut {
			p.metrics.recordTimeout(ctx, p.name)
			p.logger.DebugContext(ctx, "acquire timed out", "timeout", p.acquireTimeout)
		}
		return zero, cause
	}
	if removed {
		p.waiters.recycle(elem)
		return fail()
	}

	// Somebody already popped us off the queue. Take the handoff if it
	// has landed; otherwise it is still being created, and whatever
	// arrives goes back to the pool.
	select {
	case h := <-elem.Value.ready:
		p.waiters.recycle(elem)
		p.metrics.recordWait(ctx, time.Since(start).Seconds(), p.name)
		return h.conn, h.err
	default:
	}
	go p.abandon(elem)
	return fail()
}

// abandon collects the handoff for a waiter that stopped waiting after it
// was popped off the queue, and returns any connection it carries.
func (p *Pool[C]) abandon(elem *list.Element[waiter[C]]) {
	h := <-elem.Value.ready
	p.waiters.recycle(elem)
	if h.err == nil {
		p.Release(h.conn)
	}
}

// Release hands conn back to the pool. The oldest waiter gets it directly;
// otherwise it goes on top of the idle stack. Expired connections, and any
// connection returned after Close, are destroyed instead.
func (p *Pool[C]) Release(conn C) {
	ctx := context.Background()
	now := monotonicNow()

	p.mu.Lock()
	rec, ok := p.records[conn]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("release of a connection not owned by the pool")
		return
	}
	if rec.parked {
		p.mu.Unlock()
		p.logger.Warn("release of a connection that is not checked out")
		return
	}

	if p.closed {
		delete(p.records, conn)
		p.total--
		p.mu.Unlock()

		p.destroy(ctx, conn, stateUsed)
		return
	}

	if elem := p.waiters.popFront(); elem != nil {
		if p.lifetimeExpired(rec, now) {
			// Never hand a waiter an expired connection. The slot it
			// frees is reserved again for this waiter, and a fresh
			// connection is created on its behalf.
			delete(p.records, conn)
			p.total--
			p.reserveLocked()
			p.mu.Unlock()

			p.destroy(ctx, conn, stateUsed)
			go p.createFor(elem)
			return
		}
		rec.touch(now)
		p.mu.Unlock()

		elem.Value.ready <- handoff[C]{conn: conn}
		return
	}

	if p.lifetimeExpired(rec, now) || p.idleExpired(rec, now) {
		delete(p.records, conn)
		p.total--
		p.mu.Unlock()

		p.destroy(ctx, conn, stateUsed)
		return
	}

	rec.touch(now)
	p.idle.push(rec)
	p.mu.Unlock()

	p.metrics.addConns(ctx, -1, p.name, stateUsed)
	p.metrics.addConns(ctx, 1, p.name, stateIdle)
}

// Discard destroys a checked-out connection instead of returning it, for
// connections the caller knows to be unusable. The freed slot goes to the
// oldest waiter, if any.
func (p *Pool[C]) Discard(conn C) {
	ctx := context.Background()

	p.mu.Lock()
	rec, ok := p.records[conn]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("discard of a connection not owned by the pool")
		return
	}
	if rec.parked {
		p.mu.Unlock()
		p.logger.Warn("discard of a connection that is not checked out")
		return
	}
	delete(p.records, conn)
	p.total--
	grow := p.growLocked()
	p.mu.Unlock()

	p.destroy(ctx, conn, stateUsed)
	grow()
}

// Close shuts the pool down. Queued waiters fail with ErrPoolClosed, idle
// connections are destroyed, and Close waits up to the grace period for
// creations already in flight. Connections still checked out are destroyed
// when they are released. Calling Close again is a no-op.
func (p *Pool[C]) Close() {
	ctx := context.Background()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	rejected := p.waiters.failAll(ErrPoolClosed)

	var idle []C
	for rec := p.idle.pop(); rec != nil; rec = p.idle.pop() {
		delete(p.records, rec.conn)
		p.total--
		idle = append(idle, rec.conn)
	}
	p.mu.Unlock()

	p.destroyAll(ctx, idle, stateIdle)

	done := make(chan struct{})
	go func() {
		p.creating.Wait()
		close(done)
	}()
	grace := time.NewTimer(p.closeGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		p.logger.Warn("closed with connection creations still in flight", "grace_period", p.closeGracePeriod)
	}

	p.logger.Info("pool closed",
		"rejected_waiters", rejected,
		"destroyed_idle", len(idle))
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Size:    p.size,
		Total:   p.total,
		Idle:    p.idle.len(),
		InUse:   p.total - p.idle.len() - p.pending,
		Pending: p.pending,
		Waiting: p.waiters.waiting(),
		Closed:  p.closed,
	}
}

// Info returns the record for a live connection owned by the pool.
func (p *Pool[C]) Info(conn C) (ConnInfo, bool) {
	now := monotonicNow()

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[conn]
	if !ok {
		return ConnInfo{}, false
	}
	return ConnInfo{Age: rec.age(now), SinceLastUse: rec.idle(now)}, true
}

// Stats contains pool statistics.
type Stats struct {
	Size    int  // Maximum number of connections
	Total   int  // Live connections plus creations in flight
	Idle    int  // Connections on the idle stack
	InUse   int  // Connections checked out or pinned
	Pending int  // Creations in flight
	Waiting int  // Callers queued in Acquire
	Closed  bool // Whether Close has been called
}

// reserveLocked claims a slot for a connection about to be created.
// Must be called with mu held and the pool open.
func (p *Pool[C]) reserveLocked() {
	p.total++
	p.pending++
	p.creating.Add(1)
}

// create opens a connection in a slot reserved by reserveLocked and runs
// the setup hook against it.
func (p *Pool[C]) create(ctx context.Context) (C, error) {
	defer p.creating.Done()

	var zero C
	conn, err := p.connect(ctx)
	if err != nil {
		p.unreserve()
		p.logger.WarnContext(ctx, "failed to create connection", "error", err)
		return zero, &ConnectionCreationError{Err: err}
	}

	if p.setup != nil {
		if err := p.runSetup(ctx, conn); err != nil {
			if cerr := conn.Close(); cerr != nil {
				p.logger.WarnContext(ctx, "failed to destroy connection after setup failure", "error", cerr)
			}
			p.unreserve()
			p.logger.WarnContext(ctx, "connection setup failed", "error", err)
			return zero, &SetupHookError{Err: err}
		}
	}

	p.mu.Lock()
	p.pending--
	if p.closed {
		// Close ran while we were creating; don't leak this one into
		// a closed pool.
		p.total--
		p.mu.Unlock()

		if err := conn.Close(); err != nil {
			p.logger.WarnContext(ctx, "failed to destroy connection created during close", "error", err)
		}
		return zero, ErrPoolClosed
	}
	p.records[conn] = newRecord(conn, monotonicNow())
	p.mu.Unlock()

	p.metrics.addConns(ctx, 1, p.name, stateUsed)
	p.logger.DebugContext(ctx, "connection created")
	return conn, nil
}

// runSetup runs the setup hook, turning a panic into an error so the
// slot and the connection are still cleaned up.
func (p *Pool[C]) runSetup(ctx context.Context, conn C) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup hook panicked: %v", r)
		}
	}()
	return p.setup(ctx, conn)
}

// createFor creates a connection for a waiter that was already popped off
// the queue and delivers the outcome to it.
func (p *Pool[C]) createFor(elem *list.Element[waiter[C]]) {
	parent := elem.Value.ctx
	ctx := parent
	if deadline := elem.Value.deadline; !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(parent, deadline)
		defer cancel()
	}
	conn, err := p.create(ctx)
	if err != nil && ctx.Err() != nil && parent.Err() == nil {
		// The waiter's own acquire timeout cut the creation short.
		err = fmt.Errorf("%w after %s: %w", ErrAcquireTimeout, p.acquireTimeout, err)
	}
	elem.Value.ready <- handoff[C]{conn: conn, err: err}
}

// unreserve gives back a slot whose creation failed, and lets the oldest
// waiter try a creation of its own in that slot.
func (p *Pool[C]) unreserve() {
	p.mu.Lock()
	p.total--
	p.pending--
	grow := p.growLocked()
	p.mu.Unlock()

	grow()
}

// growLocked reserves free slots for queued waiters. The returned func
// starts the creations; call it after mu is released.
func (p *Pool[C]) growLocked() func() {
	var served []*list.Element[waiter[C]]
	for !p.closed && p.total < p.size {
		elem := p.waiters.popFront()
		if elem == nil {
			break
		}
		p.reserveLocked()
		served = append(served, elem)
	}
	return func() {
		for _, elem := range served {
			go p.createFor(elem)
		}
	}
}

func (p *Pool[C]) lifetimeExpired(rec *record[C], now time.Duration) bool {
	return p.maxLifetime > 0 && rec.age(now) > p.maxLifetime
}

func (p *Pool[C]) idleExpired(rec *record[C], now time.Duration) bool {
	return p.idleTimeout > 0 && rec.idle(now) > p.idleTimeout
}

// destroy closes a connection that has already been removed from the
// record table. Close errors are logged and swallowed.
func (p *Pool[C]) destroy(ctx context.Context, conn C, state string) {
	p.metrics.addConns(ctx, -1, p.name, state)
	if err := conn.Close(); err != nil {
		p.logger.WarnContext(ctx, "failed to destroy connection", "error", err)
	}
}

func (p *Pool[C]) destroyAll(ctx context.Context, conns []C, state string) {
	for _, conn := range conns {
		p.destroy(ctx, conn, state)
	}
}
