package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gonzalop/ftpd/internal/eventloop"
)

// memAdder feeds fixed bytes into the pipe's buffer, one chunk per call,
// then reports CodeNoData.
type memAdder struct {
	Base
	data   []byte
	offset int
	chunk  int
}

func (a *memAdder) AddToBuffer() Result {
	if a.offset >= len(a.data) {
		return NoData()
	}
	end := a.offset + a.chunk
	if end > len(a.data) {
		end = len(a.data)
	}
	buf := a.Base.Buffer()
	p := buf.Lock()
	p.Append(a.data[a.offset:end])
	p.Unlock()
	a.offset = end
	return OK()
}

// memConsumer drains everything into an internal buffer until it sees
// CodeNoData from upstream reflected via Done.
type memConsumer struct {
	Base
	got bytes.Buffer
}

func (c *memConsumer) ConsumeBuffer() Result {
	buf := c.Base.Buffer()
	p := buf.Lock()
	view := p.AsView()
	if len(view) == 0 {
		p.Unlock()
		return NoData()
	}
	c.got.Write(view)
	p.Consume(len(view))
	p.Unlock()
	return OK()
}

func runLoop(t *testing.T) (*eventloop.Loop, func()) {
	t.Helper()
	l := eventloop.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	return l, func() { cancel(); l.Stop() }
}

func TestPipeMovesAllBytesToEOF(t *testing.T) {
	l, stop := runLoop(t)
	defer stop()

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	adder := &memAdder{data: payload, chunk: 37}
	consumer := &memConsumer{}

	doneCh := make(chan Done, 1)
	p := New(l, adder, consumer, DoneHandlerFunc(func(_ *Pipe, d Done) {
		doneCh <- d
	}))
	p.Kick()

	select {
	case d := <-doneCh:
		if d.Err != nil {
			t.Fatalf("unexpected error: %v", d.Err)
		}
		if d.Source != SourceAdder {
			t.Fatalf("source = %v, want adder", d.Source)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipe never completed")
	}

	if !bytes.Equal(consumer.got.Bytes(), payload) {
		t.Fatalf("got %d bytes, want %d bytes; mismatch", consumer.got.Len(), len(payload))
	}
}

// fatalConsumer always reports a fatal error.
type fatalConsumer struct {
	Base
	err error
}

func (c *fatalConsumer) ConsumeBuffer() Result { return Fatal(c.err) }

func TestPipeReportsConsumerErrorSource(t *testing.T) {
	l, stop := runLoop(t)
	defer stop()

	adder := &memAdder{data: []byte("x"), chunk: 1}
	boom := errConsumer{}
	consumer := &fatalConsumer{err: boom}

	doneCh := make(chan Done, 1)
	p := New(l, adder, consumer, DoneHandlerFunc(func(_ *Pipe, d Done) { doneCh <- d }))
	p.Kick()

	select {
	case d := <-doneCh:
		if d.Source != SourceConsumer {
			t.Fatalf("source = %v, want consumer", d.Source)
		}
		if d.Err != boom {
			t.Fatalf("err = %v, want %v", d.Err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipe never completed")
	}
}

type errConsumer struct{}

func (errConsumer) Error() string { return "boom" }

func TestLockingBufferAccountingMatchesBytesMoved(t *testing.T) {
	l, stop := runLoop(t)
	defer stop()

	payload := bytes.Repeat([]byte("abc"), 500)
	adder := &memAdder{data: payload, chunk: 11}
	consumer := &memConsumer{}

	doneCh := make(chan Done, 1)
	p := New(l, adder, consumer, DoneHandlerFunc(func(_ *Pipe, d Done) { doneCh <- d }))
	p.WaitForEmptyBufferOnEOF = true
	p.Kick()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("pipe never completed")
	}

	if consumer.got.Len() != len(payload) {
		t.Fatalf("bytes moved = %d, want %d (off-by-one at EOF)", consumer.got.Len(), len(payload))
	}
}
