package mapreduce

import (
	"sync"

	"MRExchange/internal/types"
)

// runState tracks the run lifecycle under its own lock, separate from the
// exchange lock that guards per-record traffic. Status moves
// idle -> running -> succeeded|failed and never back.
type runState struct {
	mu            sync.Mutex
	cond          *sync.Cond
	status        types.RunStatus
	err           error
	completedMaps int
}

func newRunState() *runState {
	s := &runState{status: types.RunIdle}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *runState) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == types.RunIdle {
		s.status = types.RunRunning
	}
}

// finish sets the terminal status once. Later calls are ignored and
// return false.
func (s *runState) finish(status types.RunStatus, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.err = err
	s.cond.Broadcast()
	return true
}

func (s *runState) mapDone() {
	s.mu.Lock()
	s.completedMaps++
	s.mu.Unlock()
}

// await blocks until the status is terminal.
func (s *runState) await() (types.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.status.Terminal() {
		s.cond.Wait()
	}
	return s.status, s.err
}

func (s *runState) snapshot() (types.RunStatus, error, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.err, s.completedMaps
}
