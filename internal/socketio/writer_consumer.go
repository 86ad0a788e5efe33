package socketio

import (
	"io"

	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/internal/pipeline"
)

// WriterConsumer turns any io.Writer into a pipeline.Consumer, using the
// same worker-pool-backed CodeAgain pattern as ReaderAdder. All of its
// unexported state is touched only from the loop goroutine: a worker's
// result reaches it as an event payload, unpacked by HandleEvent on the
// loop, never written directly by the worker goroutine.
type WriterConsumer struct {
	pipeline.Base

	Writer    io.Writer
	ChunkSize int

	loop      *eventloop.Loop
	inFlight  bool
	pending   writeResult
	hasResult bool
}

type writeResult struct {
	n   int
	err error
}

// NewWriterConsumer wraps w.
func NewWriterConsumer(loop *eventloop.Loop, w io.Writer) *WriterConsumer {
	return &WriterConsumer{Writer: w, ChunkSize: defaultChunkSize, loop: loop}
}

func (c *WriterConsumer) SetEventHandler(loop *eventloop.Loop, h pipeline.EventHandler) {
	c.loop = loop
	c.Base.SetEventHandler(loop, h)
}

// ConsumeBuffer implements pipeline.Consumer.
func (c *WriterConsumer) ConsumeBuffer() pipeline.Result {
	if c.hasResult {
		c.hasResult = false
		res := c.pending
		buf := c.Base.Buffer()
		if buf == nil {
			return pipeline.Fatal(pipeline.ErrClosedEndpoint)
		}
		if res.n > 0 {
			p := buf.Lock()
			p.Consume(res.n)
			p.Unlock()
		}
		if res.err != nil {
			return pipeline.Fatal(res.err)
		}
		return pipeline.OK()
	}

	if c.inFlight {
		return pipeline.Again()
	}

	buf := c.Base.Buffer()
	if buf == nil {
		return pipeline.Fatal(pipeline.ErrClosedEndpoint)
	}

	p := buf.Lock()
	view := p.AsView()
	if len(view) == 0 {
		p.Unlock()
		return pipeline.NoData()
	}
	chunkSize := c.ChunkSize
	if chunkSize <= 0 || chunkSize > len(view) {
		chunkSize = len(view)
	}
	chunk := make([]byte, chunkSize)
	copy(chunk, view[:chunkSize])
	p.Unlock()

	c.inFlight = true
	c.loop.PostWork(func() any {
		n, err := c.Writer.Write(chunk)
		return writeResult{n: n, err: err}
	}, writeWorkHandler{c}, c)

	return pipeline.Again()
}

type writeWorkHandler struct{ c *WriterConsumer }

func (h writeWorkHandler) HandleEvent(e eventloop.Event) {
	res, ok := e.Payload.(eventloop.WorkResult)
	if !ok {
		return
	}
	h.c.pending = res.Value.(writeResult)
	h.c.hasResult = true
	h.c.inFlight = false
	h.c.Base.SendEvent(nil)
}
