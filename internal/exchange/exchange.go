// Package exchange implements the bounded multi-producer, single-consumer
// handoff between map executions and the reduce execution.
//
// Every producer id owns a single-item mailbox. Mailboxes draw their storage
// from one shared pool of fixed-size slots, so at most Capacity records are
// in flight across all producers and at most one per producer. All state is
// guarded by a single mutex; blocked callers wait on condition variables
// bound to that mutex and re-check their predicate on every wake.
package exchange

import (
	"fmt"
	"sync"

	"MRExchange/internal/types"
)

// Result is the outcome of a successful Consume.
type Result int

const (
	EndOfStream Result = iota
	Got
)

func (r Result) String() string {
	if r == Got {
		return "got"
	}
	return "end-of-stream"
}

// Stats is a point-in-time view of the exchange counters.
type Stats struct {
	Capacity      int
	SlotSize      int
	Filled        int
	HighWater     int
	Produced      uint64
	Consumed      uint64
	PendingWaits  uint64 // produce calls that waited for their own mailbox
	SpaceWaits    uint64 // produce calls that waited for a free slot
	FinishedCount int
}

type Exchange struct {
	mu       sync.Mutex
	space    *sync.Cond // a slot was freed
	arrival  *sync.Cond // some channel became pending or finished
	cursor   int        // NextAny round-robin start
	pool     *pool
	channels *channelTable
	err      error

	slotSize int
	stats    Stats
}

// New creates an exchange for producers [0, producers) with room for
// capacity records of at most slotSize bytes each.
func New(producers, capacity, slotSize int) (*Exchange, error) {
	if producers < 1 {
		return nil, fmt.Errorf("%w: producer count %d", ErrConfigInvalid, producers)
	}
	p, err := newPool(capacity, slotSize)
	if err != nil {
		return nil, err
	}

	x := &Exchange{
		pool:     p,
		slotSize: slotSize,
	}
	x.space = sync.NewCond(&x.mu)
	x.arrival = sync.NewCond(&x.mu)
	x.channels = newChannelTable(producers, &x.mu)
	return x, nil
}

// Capacity is the number of slots in the pool.
func (x *Exchange) Capacity() int {
	return x.pool.capacity()
}

// SlotSize is the largest record, in bytes, a slot can hold.
func (x *Exchange) SlotSize() int {
	return x.slotSize
}

// Producers is the number of producer ids.
func (x *Exchange) Producers() int {
	return x.channels.len()
}

// Produce hands an owned copy of rec to the consumer side of id. It blocks
// while id still has an unconsumed record and while every slot is filled.
// Oversized records are rejected before any locking or waiting.
func (x *Exchange) Produce(id int, rec types.Record) error {
	if !x.pool.fits(rec) {
		return fmt.Errorf("%w: %d bytes, slot holds %d", ErrOversizedRecord, rec.Size(), x.slotSize)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ch, ok := x.channels.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProducer, id)
	}
	if ch.finished {
		return fmt.Errorf("%w: %d", ErrProducerFinished, id)
	}

	if ch.pending && x.err == nil {
		x.stats.PendingWaits++
		for ch.pending && x.err == nil {
			ch.drained.Wait()
		}
	}
	if x.pool.available() == 0 && x.err == nil {
		x.stats.SpaceWaits++
		for x.pool.available() == 0 && x.err == nil {
			x.space.Wait()
		}
	}
	if x.err != nil {
		return x.abortedErr()
	}

	idx := x.pool.claim(id, rec)
	x.channels.attach(id, idx)
	ch.ready.Signal()
	x.arrival.Signal()

	x.stats.Produced++
	if f := x.pool.filled(); f > x.stats.HighWater {
		x.stats.HighWater = f
	}
	return nil
}

// Consume copies the next record of id into dst, reusing the capacity of
// dst.Key and dst.Value. It blocks until id has a record or has finished.
// When dst is too small the record stays pending and ErrBufferTooSmall is
// returned.
func (x *Exchange) Consume(id int, dst *types.Record) (Result, error) {
	if dst == nil {
		return EndOfStream, fmt.Errorf("%w: nil destination", ErrBufferTooSmall)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ch, err := x.awaitData(id)
	if err != nil || ch == nil {
		return EndOfStream, err
	}

	stored := x.pool.peek(ch.slot)
	if cap(dst.Key) < len(stored.Key) || cap(dst.Value) < len(stored.Value) {
		return EndOfStream, fmt.Errorf("%w: need key %d value %d, have key %d value %d",
			ErrBufferTooSmall, len(stored.Key), len(stored.Value), cap(dst.Key), cap(dst.Value))
	}
	dst.Key = dst.Key[:len(stored.Key)]
	dst.Value = dst.Value[:len(stored.Value)]
	copy(dst.Key, stored.Key)
	copy(dst.Value, stored.Value)

	x.take(id)
	return Got, nil
}

// Next is Consume with a freshly allocated record. The returned record is
// exclusively the caller's.
func (x *Exchange) Next(id int) (types.Record, Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ch, err := x.awaitData(id)
	if err != nil || ch == nil {
		return types.Record{}, EndOfStream, err
	}
	return x.take(id), Got, nil
}

// NextAny takes a record from whichever producer has one ready, rotating
// the starting id between calls so no producer starves. It returns
// EndOfStream once every producer has finished and nothing is pending.
// Unlike a fixed-order Consume loop it cannot stall on an idle producer
// while the pool is full of records from other producers.
func (x *Exchange) NextAny() (int, types.Record, Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for {
		if x.channels.allDone() {
			return 0, types.Record{}, EndOfStream, nil
		}
		if x.err != nil {
			return 0, types.Record{}, EndOfStream, x.abortedErr()
		}
		if id, ok := x.channels.nextPending(x.cursor); ok {
			x.cursor = (id + 1) % x.channels.len()
			return id, x.take(id), Got, nil
		}
		x.arrival.Wait()
	}
}

// awaitData waits until id has a pending record or reached end-of-stream.
// It returns a nil channel and nil error on end-of-stream. Must hold x.mu.
func (x *Exchange) awaitData(id int) (*channel, error) {
	ch, ok := x.channels.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProducer, id)
	}
	for !ch.pending && !ch.finished && x.err == nil {
		ch.ready.Wait()
	}
	if ch.endOfStream() {
		return nil, nil
	}
	if x.err != nil {
		return nil, x.abortedErr()
	}
	return ch, nil
}

// take releases the slot of id and wakes its producer and one producer
// waiting for space. Must hold x.mu with id pending.
func (x *Exchange) take(id int) types.Record {
	idx := x.channels.detach(id)
	rec := x.pool.release(idx)
	x.space.Signal()
	x.stats.Consumed++
	return rec
}

// MarkFinished records that the producer id will never produce again and
// wakes a consumer blocked on it. Repeated calls are no-ops.
func (x *Exchange) MarkFinished(id int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	ch, ok := x.channels.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProducer, id)
	}
	if !ch.finished {
		x.channels.finish(id)
		ch.ready.Signal()
		x.arrival.Signal()
	}
	return nil
}

// Abort records a run-level failure and wakes every blocked caller. Blocked
// and later Produce and Consume calls return an error wrapping both
// ErrAborted and cause. Only the first cause is kept.
func (x *Exchange) Abort(cause error) {
	if cause == nil {
		cause = ErrAborted
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.err == nil {
		x.err = cause
	}
	x.space.Broadcast()
	x.arrival.Broadcast()
	x.channels.broadcast()
}

// Err returns the abort cause, if any.
func (x *Exchange) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

func (x *Exchange) abortedErr() error {
	if x.err == ErrAborted {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, x.err)
}

// State reports the mailbox state of id.
func (x *Exchange) State(id int) (types.ChannelState, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ch, ok := x.channels.get(id)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownProducer, id)
	}
	return ch.state(), nil
}

func (x *Exchange) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	s := x.stats
	s.Capacity = x.pool.capacity()
	s.SlotSize = x.slotSize
	s.Filled = x.pool.filled()
	s.FinishedCount = x.channels.finishedCount()
	return s
}

// Release drops every stored record. The exchange is unusable afterwards.
// It must not be called while any producer or consumer is still running.
func (x *Exchange) Release() {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.err == nil {
		x.err = errReleased
	}
	x.pool.reset()
	for i := range x.channels.channels {
		ch := &x.channels.channels[i]
		ch.pending = false
		ch.slot = noOwner
	}
	x.space.Broadcast()
	x.arrival.Broadcast()
	x.channels.broadcast()
}
