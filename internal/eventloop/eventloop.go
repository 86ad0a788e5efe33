// Package eventloop implements the single-thread event dispatcher that
// drives the pipeline: a serialized queue of timestamped events delivered
// to handlers in submission order per (source, target) pair, timer
// scheduling, and a bounded worker pool for blocking work.
package eventloop

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives events posted to it through the loop.
type Handler interface {
	HandleEvent(e Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(e Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// Event is a single timestamped notification delivered to exactly one
// handler. Source identifies the object that raised it (an Adder, a
// Consumer, a timer, ...); it is what Retarget/Cancel filter on.
type Event struct {
	Time    time.Time
	Source  any
	Payload any

	generation uint64
}

// Loop is a single-goroutine dispatcher. All HandleEvent calls happen on
// the goroutine that calls Run; PostEvent/PostFrom are safe to call from
// any goroutine.
type Loop struct {
	mu       sync.Mutex
	queue    []queuedEvent
	wake     chan struct{}
	timers   timerHeap
	nextGen  uint64
	genOf    map[any]uint64 // current generation per source, for Retarget/Cancel
	workers  *WorkerPool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

type queuedEvent struct {
	ev      Event
	handler Handler
}

// New creates a Loop with a worker pool of the given size (a size <= 0
// still gets one worker goroutine; PostWork is always asynchronous).
func New(workerPoolSize int) *Loop {
	l := &Loop{
		wake:  make(chan struct{}, 1),
		genOf: make(map[any]uint64),
		done:  make(chan struct{}),
	}
	l.workers = newWorkerPool(workerPoolSize, l)
	return l
}

// PostEvent enqueues an event for handler, tagged with the generation
// currently on record for ev.Source. Safe to call from any goroutine,
// including the loop's own.
func (l *Loop) PostEvent(ev Event, handler Handler) {
	l.mu.Lock()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	ev.generation = l.genOf[ev.Source]
	l.queue = append(l.queue, queuedEvent{ev: ev, handler: handler})
	l.mu.Unlock()
	l.signal()
}

// Retarget atomically invalidates every event currently queued whose
// Source is src (they are dropped, never delivered to the old handler)
// and arranges for further PostEvent calls naming src to be accepted
// under a fresh generation. This is the "retarget or drop" contract
// spec.md requires of set_event_handler: a handler swap never lets a
// stale event reach the new handler or, worse, a freed old one.
func (l *Loop) Retarget(src any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextGen++
	l.genOf[src] = l.nextGen
}

// Cancel removes src from bookkeeping entirely; any event already queued
// for it is dropped, never delivered. Events posted for src after Cancel
// are delivered as usual.
func (l *Loop) Cancel(src any) {
	l.Retarget(src)
	l.mu.Lock()
	kept := l.queue[:0]
	for _, qe := range l.queue {
		if qe.ev.Source != src {
			kept = append(kept, qe)
		}
	}
	l.queue = kept
	delete(l.genOf, src)
	l.mu.Unlock()
}

func (l *Loop) currentGeneration(src any) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.genOf[src]
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue and fires due timers until ctx is cancelled or
// Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.drainOnce()

		var timerC <-chan time.Time
		if d, ok := l.nextTimerDelay(); ok {
			t := time.NewTimer(d)
			defer t.Stop()
			timerC = t.C
		}

		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		case <-timerC:
			l.fireDueTimers()
		}
	}
}

// Stop halts Run. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		close(l.done)
		l.workers.stop()
	})
}

func (l *Loop) drainOnce() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, qe := range batch {
		cur := l.currentGeneration(qe.ev.Source)
		if qe.ev.Source != nil && cur != qe.ev.generation {
			continue // stale: dropped per Retarget/Cancel contract
		}
		if qe.handler != nil {
			qe.handler.HandleEvent(qe.ev)
		}
	}
}

// PostWork submits blocking work to the bounded worker pool; fn's result
// is delivered back to the loop as an event to handler once it's done.
func (l *Loop) PostWork(fn func() any, handler Handler, source any) {
	l.workers.submit(fn, handler, source)
}

// --- timers -----------------------------------------------------------

// TimerID identifies a scheduled timer for cancellation.
type TimerID uint64

type timerEntry struct {
	id      TimerID
	fire    time.Time
	handler Handler
	payload any
	index   int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fire.Before(h[j].fire) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

var timerIDSeq uint64

// AddTimer schedules handler to receive a timer event after d.
func (l *Loop) AddTimer(d time.Duration, handler Handler, payload any) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := TimerID(atomic.AddUint64(&timerIDSeq, 1))
	heap.Push(&l.timers, &timerEntry{id: id, fire: time.Now().Add(d), handler: handler, payload: payload})
	l.signal()
	return id
}

// CancelTimer removes a scheduled timer if it has not fired yet.
func (l *Loop) CancelTimer(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.timers {
		if e.id == id {
			heap.Remove(&l.timers, i)
			return
		}
	}
}

func (l *Loop) nextTimerDelay() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	d := time.Until(l.timers[0].fire)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (l *Loop) fireDueTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].fire.After(now) {
			l.mu.Unlock()
			return
		}
		e := heap.Pop(&l.timers).(*timerEntry)
		l.mu.Unlock()
		if e.handler != nil {
			e.handler.HandleEvent(Event{Time: now, Source: e, Payload: e.payload})
		}
	}
}
