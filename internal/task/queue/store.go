// Package queue holds tasks that are eligible to run, ordered by priority.
package queue

import (
	"container/heap"
	"sync"

	"prisched/internal/task"
)

// Store is a concurrency-safe priority queue of tasks.
//
// Pop order is ascending Priority; equal priorities pop in insertion order.
// Consumers wait on Ready() instead of polling: each Insert leaves a wake-up
// token, and a consumer that pops while more work remains passes the token on
// with Signal() so idle consumers wake one after another.
type Store struct {
	mu     sync.Mutex
	h      entryHeap
	seq    uint64
	closed bool

	ready chan struct{}
}

func New() *Store {
	return &Store{ready: make(chan struct{}, 1)}
}

// Insert adds t. It never fails; tasks inserted after Close are kept for DrainAll.
func (s *Store) Insert(t task.Task) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.h, entry{task: t, seq: s.seq})
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.Signal()
	}
}

// PopMin removes and returns the most urgent task.
// The bool is false when the store is empty or closed.
func (s *Store) PopMin() (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.h.Len() == 0 {
		return task.Task{}, false
	}
	e := heap.Pop(&s.h).(entry)
	return e.task, true
}

// Peek returns the most urgent task without removing it.
func (s *Store) Peek() (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return task.Task{}, false
	}
	return s.h[0].task, true
}

// DrainAll removes every task and returns them in pop order.
func (s *Store) DrainAll() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, s.h.Len())
	for s.h.Len() > 0 {
		out = append(out, heap.Pop(&s.h).(entry).task)
	}
	return out
}

func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}

// Ready delivers a token when work may be available.
// A token is a hint, not a reservation: PopMin can still come back empty.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// Signal leaves a wake-up token for one waiting consumer. Never blocks.
func (s *Store) Signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Close stops PopMin from handing out tasks. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
