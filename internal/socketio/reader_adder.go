// Package socketio adapts net.Conn, os.File and the ASCII/PROXY transport
// layers to the pipeline.Adder / pipeline.Consumer contracts, per spec.md
// §4.1. Go's net.Conn has no EAGAIN surface the way the original's
// non-blocking sockets do, so readiness is simulated by handing the
// blocking Read/Write call to the event loop's worker pool and reporting
// CodeAgain until the worker posts the result back — exactly the "work
// that would block is posted to a bounded worker pool" rule in spec.md
// §5, applied to the one place Go's blocking I/O model would otherwise
// force the event loop itself to block.
package socketio

import (
	"io"

	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/internal/pipeline"
)

const defaultChunkSize = 32 * 1024

// ReaderAdder turns any io.Reader into a pipeline.Adder. HighWatermark, if
// non-zero, pauses reads once the shared buffer holds at least that many
// bytes (ENOBUFS) until the consumer drains it back down — the "adder
// paused until consumer drains" rule of spec.md §4.1. All unexported state
// is touched only from the loop goroutine; see WriterConsumer's comment.
type ReaderAdder struct {
	pipeline.Base

	Reader        io.Reader
	ChunkSize     int
	HighWatermark int

	loop      *eventloop.Loop
	inFlight  bool
	pending   readResult
	hasResult bool
	eof       bool
}

type readResult struct {
	n   int
	buf []byte
	err error
}

// NewReaderAdder wraps r. loop is the event loop whose worker pool will
// perform the actual blocking Read calls.
func NewReaderAdder(loop *eventloop.Loop, r io.Reader) *ReaderAdder {
	return &ReaderAdder{Reader: r, ChunkSize: defaultChunkSize, loop: loop}
}

func (a *ReaderAdder) SetEventHandler(loop *eventloop.Loop, h pipeline.EventHandler) {
	a.loop = loop
	a.Base.SetEventHandler(loop, h)
}

// AddToBuffer implements pipeline.Adder.
func (a *ReaderAdder) AddToBuffer() pipeline.Result {
	if a.eof {
		return pipeline.NoData()
	}

	if a.hasResult {
		a.hasResult = false
		res := a.pending
		if res.err != nil && res.n == 0 {
			if res.err == io.EOF {
				a.eof = true
				return pipeline.NoData()
			}
			return pipeline.Fatal(res.err)
		}
		if res.n > 0 {
			buf := a.Base.Buffer()
			if buf == nil {
				return pipeline.Fatal(pipeline.ErrClosedEndpoint)
			}
			p := buf.Lock()
			p.Append(res.buf[:res.n])
			p.Unlock()
		}
		if res.err == io.EOF {
			a.eof = true
		}
		return pipeline.OK()
	}

	if a.inFlight {
		return pipeline.Again()
	}

	buf := a.Base.Buffer()
	if buf == nil {
		return pipeline.Fatal(pipeline.ErrClosedEndpoint)
	}
	if a.HighWatermark > 0 {
		p := buf.Lock()
		full := p.Size() >= a.HighWatermark
		p.Unlock()
		if full {
			return pipeline.NoBufs()
		}
	}

	chunkSize := a.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	a.inFlight = true
	a.loop.PostWork(func() any {
		chunk := make([]byte, chunkSize)
		n, err := a.Reader.Read(chunk)
		return readResult{n: n, buf: chunk, err: err}
	}, readWorkHandler{a}, a)

	return pipeline.Again()
}

type readWorkHandler struct{ a *ReaderAdder }

func (h readWorkHandler) HandleEvent(e eventloop.Event) {
	res, ok := e.Payload.(eventloop.WorkResult)
	if !ok {
		return
	}
	h.a.pending = res.Value.(readResult)
	h.a.hasResult = true
	h.a.inFlight = false
	h.a.Base.SendEvent(nil)
}
