package exchange

import (
	"sync"

	"MRExchange/internal/types"
)

// channel is the single-item mailbox for one producer id. Its conditions
// share the Exchange lock.
type channel struct {
	pending  bool
	slot     int
	finished bool

	ready   *sync.Cond // consumer: pending or finished
	drained *sync.Cond // producer: pending cleared
}

func (c *channel) state() types.ChannelState {
	switch {
	case c.pending:
		return types.ChannelPending
	case c.finished:
		return types.ChannelFinished
	default:
		return types.ChannelEmpty
	}
}

// endOfStream reports whether the producer is gone and nothing remains.
func (c *channel) endOfStream() bool {
	return c.finished && !c.pending
}

type channelTable struct {
	channels []channel
}

func newChannelTable(n int, mu sync.Locker) *channelTable {
	t := &channelTable{channels: make([]channel, n)}
	for i := range t.channels {
		t.channels[i] = channel{
			slot:    noOwner,
			ready:   sync.NewCond(mu),
			drained: sync.NewCond(mu),
		}
	}
	return t
}

func (t *channelTable) get(id int) (*channel, bool) {
	if id < 0 || id >= len(t.channels) {
		return nil, false
	}
	return &t.channels[id], true
}

func (t *channelTable) len() int {
	return len(t.channels)
}

// attach records that id now owns the filled slot idx.
func (t *channelTable) attach(id, idx int) {
	c := &t.channels[id]
	c.pending = true
	c.slot = idx
}

// detach clears the claim of id and returns the slot index it held.
func (t *channelTable) detach(id int) int {
	c := &t.channels[id]
	idx := c.slot
	c.pending = false
	c.slot = noOwner
	c.drained.Signal()
	return idx
}

func (t *channelTable) finish(id int) {
	t.channels[id].finished = true
}

func (t *channelTable) broadcast() {
	for i := range t.channels {
		t.channels[i].ready.Broadcast()
		t.channels[i].drained.Broadcast()
	}
}

// allDone reports whether every producer reached end-of-stream.
func (t *channelTable) allDone() bool {
	for i := range t.channels {
		if !t.channels[i].endOfStream() {
			return false
		}
	}
	return true
}

// nextPending returns the first pending id at or after start, wrapping.
func (t *channelTable) nextPending(start int) (int, bool) {
	n := len(t.channels)
	for i := 0; i < n; i++ {
		id := (start + i) % n
		if t.channels[id].pending {
			return id, true
		}
	}
	return 0, false
}

func (t *channelTable) finishedCount() int {
	n := 0
	for i := range t.channels {
		if t.channels[i].finished {
			n++
		}
	}
	return n
}
