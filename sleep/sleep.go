// Package sleep allows a single goroutine to efficiently sleep on multiple
// event sources (wakers) and be notified of whichever one fires first,
// without paying for a full channel per event source.
//
// The engine uses it in Conn.WaitClosed, which blocks in Sleeper.Fetch
// until the connection's closed Waker is asserted.
package sleep

import (
	"sync"
	"sync/atomic"
)

// Waker is a one-shot, level-triggered event source. Asserting it more than
// once before it is fetched has the same effect as asserting it once.
type Waker struct {
	asserted atomic.Bool
	sleeper  atomic.Pointer[Sleeper]
	id       int
}

// Assert marks the waker as asserted and wakes up the associated sleeper, if
// any. Assert is safe to call concurrently with Fetch and with other Asserts.
func (w *Waker) Assert() {
	if !w.asserted.CompareAndSwap(false, true) {
		return // Already asserted; nothing new to deliver.
	}
	if s := w.sleeper.Load(); s != nil {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// Clear clears the asserted state without waking anyone.
func (w *Waker) Clear() {
	w.asserted.Store(false)
}

// IsAsserted returns whether the waker is currently asserted.
func (w *Waker) IsAsserted() bool {
	return w.asserted.Load()
}

// Sleeper waits on a set of Wakers and reports which one fired.
//
// The zero value is ready to use.
type Sleeper struct {
	mu     sync.Mutex
	cond   sync.Cond
	wakers []*Waker
}

func (s *Sleeper) lazyInit() {
	if s.cond.L == nil {
		s.cond.L = &s.mu
	}
}

// AddWaker associates w with the sleeper under the given id, which Fetch
// reports back when w is the one that fired.
func (s *Sleeper) AddWaker(w *Waker, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazyInit()
	w.id = id
	w.sleeper.Store(s)
	s.wakers = append(s.wakers, w)
}

// Fetch returns the id of an asserted waker, clearing its asserted state in
// the process. If block is true and no waker is currently asserted, Fetch
// blocks until one is.
func (s *Sleeper) Fetch(block bool) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazyInit()
	for {
		for _, w := range s.wakers {
			if w.asserted.CompareAndSwap(true, false) {
				return w.id, true
			}
		}
		if !block {
			return 0, false
		}
		s.cond.Wait()
	}
}

// Done detaches all wakers from the sleeper. Once Done returns, asserting a
// previously associated waker no longer notifies this sleeper.
func (s *Sleeper) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wakers {
		w.sleeper.Store(nil)
	}
	s.wakers = nil
}
