package pipeline

import (
	"sync"

	"github.com/gonzalop/ftpd/internal/buffer"
	"github.com/gonzalop/ftpd/internal/eventloop"
)

// EventHandler is notified when an Adder or Consumer becomes ready again
// after returning CodeAgain, or when it wants to report an error
// out-of-turn.
type EventHandler interface {
	HandleEndpointEvent(err error)
}

// Adder is the source end of a Pipe: it adds bytes into a shared locking
// buffer.
type Adder interface {
	SetBuffer(buf *buffer.Locking)
	SetEventHandler(loop *eventloop.Loop, h EventHandler)
	AddToBuffer() Result
}

// Consumer is the sink end of a Pipe: it consumes bytes out of a shared
// locking buffer.
type Consumer interface {
	SetBuffer(buf *buffer.Locking)
	SetEventHandler(loop *eventloop.Loop, h EventHandler)
	ConsumeBuffer() Result
}

// Base provides the (buffer pointer, event handler pointer, own mutex)
// triple that every concrete Adder/Consumer embeds, exactly as spec.md §4.1
// describes. SetEventHandler retargets the owning loop so stale events
// queued for the old handler are dropped, never delivered.
type Base struct {
	mu   sync.Mutex
	buf  *buffer.Locking
	loop *eventloop.Loop
	h    EventHandler
}

func (b *Base) SetBuffer(buf *buffer.Locking) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = buf
}

// Base returns b itself, so embedding types automatically satisfy
// baseProvider without writing any boilerplate.
func (b *Base) Base() *Base {
	return b
}

func (b *Base) Buffer() *buffer.Locking {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

func (b *Base) SetEventHandler(loop *eventloop.Loop, h EventHandler) {
	b.mu.Lock()
	old := b.loop
	b.loop = loop
	b.h = h
	b.mu.Unlock()
	if old != nil {
		old.Retarget(b)
	}
}

// SendEvent posts err to the currently attached handler, if any. It is the
// mechanism an Adder/Consumer uses to tell the Pipe "I'm ready now" after
// a previous CodeAgain, without the Pipe ever polling.
func (b *Base) SendEvent(err error) {
	b.mu.Lock()
	loop, h := b.loop, b.h
	b.mu.Unlock()
	if loop == nil || h == nil {
		return
	}
	loop.PostEvent(eventloop.Event{Source: b}, eventloop.HandlerFunc(func(eventloop.Event) {
		h.HandleEndpointEvent(err)
	}))
}
