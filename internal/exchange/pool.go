package exchange

import (
	"fmt"

	"MRExchange/internal/types"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotFilled
)

const noOwner = -1

type slot struct {
	state  slotState
	owner  int
	record types.Record
}

// pool is a fixed array of slots. It is not safe for concurrent use; the
// Exchange guards it with its own lock.
type pool struct {
	slots    []slot
	free     []int // indices of empty slots, used as a stack
	slotSize int
}

func newPool(capacity, slotSize int) (*pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: pool capacity %d", ErrConfigInvalid, capacity)
	}
	if slotSize < 1 {
		return nil, fmt.Errorf("%w: slot size %d", ErrConfigInvalid, slotSize)
	}

	p := &pool{
		slots:    make([]slot, capacity),
		free:     make([]int, capacity),
		slotSize: slotSize,
	}
	for i := range p.slots {
		p.slots[i].owner = noOwner
		// highest index on the bottom so slot 0 is claimed first
		p.free[i] = capacity - 1 - i
	}
	return p, nil
}

func (p *pool) capacity() int {
	return len(p.slots)
}

func (p *pool) available() int {
	return len(p.free)
}

func (p *pool) filled() int {
	return len(p.slots) - len(p.free)
}

func (p *pool) fits(rec types.Record) bool {
	return rec.Size() <= p.slotSize
}

// claim stores an owned copy of rec in an empty slot and returns its index.
// The caller must have checked available() > 0.
func (p *pool) claim(owner int, rec types.Record) int {
	n := len(p.free)
	if n == 0 {
		panic("exchange: claim on a full pool")
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]

	s := &p.slots[idx]
	s.state = slotFilled
	s.owner = owner
	s.record = rec.Clone()
	return idx
}

// peek returns the record held by a filled slot without releasing it.
func (p *pool) peek(idx int) types.Record {
	return p.slots[idx].record
}

// release empties a filled slot and hands its record to the caller.
func (p *pool) release(idx int) types.Record {
	s := &p.slots[idx]
	if s.state != slotFilled {
		panic(fmt.Sprintf("exchange: release of empty slot %d", idx))
	}
	rec := s.record
	s.state = slotEmpty
	s.owner = noOwner
	s.record = types.Record{}
	p.free = append(p.free, idx)
	return rec
}

// ownedBy counts filled slots owned by id.
func (p *pool) ownedBy(id int) int {
	n := 0
	for i := range p.slots {
		if p.slots[i].state == slotFilled && p.slots[i].owner == id {
			n++
		}
	}
	return n
}

func (p *pool) reset() {
	for i := range p.slots {
		p.slots[i] = slot{owner: noOwner}
	}
	p.free = p.free[:0]
	for i := len(p.slots) - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
}
