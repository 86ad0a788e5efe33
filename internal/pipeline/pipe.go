package pipeline

import (
	"github.com/gonzalop/ftpd/internal/buffer"
	"github.com/gonzalop/ftpd/internal/eventloop"
)

// DoneHandler receives a Pipe's single terminal completion.
type DoneHandler interface {
	HandlePipeDone(p *Pipe, done Done)
}

type DoneHandlerFunc func(p *Pipe, done Done)

func (f DoneHandlerFunc) HandlePipeDone(p *Pipe, done Done) { f(p, done) }

// Pipe glues one Adder to one Consumer around a shared locking buffer,
// running the loop described in spec.md §4.2. It is created externally,
// destroyed with its owning session, and automatically detaches its
// endpoints on Close so neither can outlive it and deliver a stray event.
type Pipe struct {
	loop *eventloop.Loop
	buf  *buffer.Locking

	adder    Adder
	consumer Consumer

	// MaxNumLoops bounds how many times AddToBuffer/ConsumeBuffer are
	// called back-to-back in a single turn, so one very fast endpoint
	// can't starve the loop of other work.
	MaxNumLoops int
	// WaitForEmptyBufferOnEOF: when the adder reports CodeNoData, delay
	// the completion event until the buffer has been fully drained by
	// the consumer (unless the consumer itself already reported
	// CodeNoData, or the buffer is already empty).
	WaitForEmptyBufferOnEOF bool

	waitingForAdderEvent    bool
	waitingForConsumerEvent bool
	lastAdderResult         Result
	lastConsumerResult      Result

	done        bool
	doneHandler DoneHandler

	closed bool
}

// New builds a Pipe. adder and consumer are attached immediately; the
// Pipe becomes their event handler for as long as it lives.
func New(loop *eventloop.Loop, adder Adder, consumer Consumer, target DoneHandler) *Pipe {
	p := &Pipe{
		loop:                    loop,
		buf:                     buffer.NewLocking(4096),
		adder:                   adder,
		consumer:                consumer,
		MaxNumLoops:             64,
		WaitForEmptyBufferOnEOF: true,
		doneHandler:             target,
	}
	adder.SetBuffer(p.buf)
	consumer.SetBuffer(p.buf)
	adder.SetEventHandler(loop, adderEventHandler{p})
	consumer.SetEventHandler(loop, consumerEventHandler{p})
	return p
}

// Close detaches the pipe from both endpoints. Safe to call more than
// once.
func (p *Pipe) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.adder.SetEventHandler(p.loop, nil)
	p.consumer.SetEventHandler(p.loop, nil)
}

// Kick starts (or resumes) the pipe's loop. Call once after construction
// to prime it; it is otherwise entirely event-driven.
func (p *Pipe) Kick() {
	p.onAdderEvent(nil)
}

type adderEventHandler struct{ p *Pipe }

func (h adderEventHandler) HandleEndpointEvent(err error) { h.p.onAdderEvent(err) }

type consumerEventHandler struct{ p *Pipe }

func (h consumerEventHandler) HandleEndpointEvent(err error) { h.p.onConsumerEvent(err) }

func (p *Pipe) emitDone(d Done) {
	if p.done {
		return
	}
	p.done = true
	p.Close()
	if p.doneHandler != nil {
		p.doneHandler.HandlePipeDone(p, d)
	}
}

func (p *Pipe) onAdderEvent(forcedErr error) {
	if p.done {
		return
	}
	p.waitingForAdderEvent = false

	if forcedErr != nil {
		p.emitDone(Done{Err: forcedErr, Source: SourceAdder})
		return
	}

	for i := 0; i < p.MaxNumLoops; i++ {
		res := p.adder.AddToBuffer()
		p.lastAdderResult = res

		switch res.Code {
		case CodeOK:
			// New bytes make an earlier consumer CodeNoData stale: the
			// consumer has not seen them yet, so it must not count as
			// "drained" when EOF arrives.
			if p.lastConsumerResult.Code == CodeNoData {
				p.lastConsumerResult = Result{}
			}
			p.maybeWakeConsumer()
			continue

		case CodeAgain:
			p.waitingForAdderEvent = true
			p.maybeWakeConsumer()
			return

		case CodeNoData:
			bufEmpty := p.buf.Lock()
			empty := bufEmpty.Size() == 0
			bufEmpty.Unlock()

			if !p.WaitForEmptyBufferOnEOF || p.lastConsumerResult.Code == CodeNoData || empty {
				p.emitDone(Done{Source: SourceAdder})
				return
			}
			p.maybeWakeConsumer()
			return

		case CodeNoBufs:
			p.maybeWakeConsumer()
			return

		case CodeCanceled:
			// Only a Consumer can gracefully cancel; an Adder reporting
			// this is a logic error in the endpoint, treated as fatal.
			p.emitDone(Done{Err: ErrClosedEndpoint, Source: SourceAdder})
			return

		default: // CodeFatal
			p.emitDone(Done{Err: res.Err, Source: SourceAdder})
			return
		}
	}
	// Loop budget exhausted mid-stream: let the consumer catch up, then
	// the next posted event resumes the adder.
	p.maybeWakeConsumer()
}

func (p *Pipe) onConsumerEvent(forcedErr error) {
	if p.done {
		return
	}
	p.waitingForConsumerEvent = false

	if forcedErr != nil {
		p.emitDone(Done{Err: forcedErr, Source: SourceConsumer})
		return
	}

	for i := 0; i < p.MaxNumLoops; i++ {
		res := p.consumer.ConsumeBuffer()
		p.lastConsumerResult = res

		switch res.Code {
		case CodeOK:
			p.maybeWakeAdder()
			continue

		case CodeAgain:
			p.waitingForConsumerEvent = true
			return

		case CodeNoData:
			// The sink wants more than is buffered; only the adder side
			// can produce the terminal completion.
			p.maybeWakeAdder()
			return

		case CodeNoBufs:
			// Shouldn't happen for a consumer, but treat identically to
			// "needs more room downstream": yield to the adder.
			p.maybeWakeAdder()
			return

		case CodeCanceled:
			p.emitDone(Done{Source: SourceConsumer})
			return

		default: // CodeFatal
			p.emitDone(Done{Err: res.Err, Source: SourceConsumer})
			return
		}
	}
	p.maybeWakeAdder()
}

// maybeWakeConsumer and maybeWakeAdder re-drive the opposite endpoint by
// posting a fresh loop event rather than recursing directly: a long
// transfer would otherwise nest one native stack frame per MaxNumLoops
// chunk moved, which for a multi-gigabyte file is an unbounded call
// stack. Posting keeps each turn's recursion depth constant regardless of
// transfer size.
func (p *Pipe) maybeWakeConsumer() {
	proxy := p.buf.Lock()
	hasBytes := proxy.Size() > 0
	proxy.Unlock()
	if hasBytes && !p.waitingForConsumerEvent && !p.done {
		p.loop.PostEvent(eventloop.Event{Source: p}, eventloop.HandlerFunc(func(eventloop.Event) {
			p.onConsumerEvent(nil)
		}))
	}
}

func (p *Pipe) maybeWakeAdder() {
	if p.waitingForAdderEvent || p.done {
		return
	}
	p.loop.PostEvent(eventloop.Event{Source: p}, eventloop.HandlerFunc(func(eventloop.Event) {
		p.onAdderEvent(nil)
	}))
}

// LastResults exposes the most recent result from each endpoint, mainly
// for tests and for sessions that want to log the exact reason a transfer
// ended without waiting for the Done callback's error text alone. A
// consumer CodeNoData is cleared once the adder adds more bytes.
func (p *Pipe) LastResults() (adder, consumer Result) {
	return p.lastAdderResult, p.lastConsumerResult
}
