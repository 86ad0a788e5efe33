package socketio

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/gonzalop/ftpd/internal/buffer"
	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/internal/pipeline"
)

type stubHandler struct{ ch chan error }

func (h stubHandler) HandleEndpointEvent(err error) {
	select {
	case h.ch <- err:
	default:
	}
}

func TestReaderAdderDeliversBytesThroughWorkerPool(t *testing.T) {
	loop := eventloop.New(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	src := bytes.NewBufferString("hello world")
	ra := NewReaderAdder(loop, src)
	buf := buffer.NewLocking(0)
	ra.SetBuffer(buf)
	h := stubHandler{ch: make(chan error, 4)}
	ra.SetEventHandler(loop, h)

	var got []byte
	deadline := time.After(2 * time.Second)
	for {
		r := ra.AddToBuffer()
		switch r.Code {
		case pipeline.CodeOK:
			p := buf.Lock()
			got = append(got, p.AsView()...)
			p.Consume(p.Size())
			p.Unlock()
		case pipeline.CodeAgain:
			select {
			case <-h.ch:
			case <-deadline:
				t.Fatal("timed out waiting for worker pool result")
			}
		case pipeline.CodeNoData:
			if string(got) != "hello world" {
				t.Fatalf("got %q", got)
			}
			return
		default:
			t.Fatalf("unexpected result: %v", r)
		}
	}
}

func TestWriterConsumerDrainsBufferThroughWorkerPool(t *testing.T) {
	loop := eventloop.New(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	var dst bytes.Buffer
	wc := NewWriterConsumer(loop, &dst)
	buf := buffer.NewLocking(0)
	wc.SetBuffer(buf)
	h := stubHandler{ch: make(chan error, 4)}
	wc.SetEventHandler(loop, h)

	p := buf.Lock()
	p.Append([]byte("payload"))
	p.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		r := wc.ConsumeBuffer()
		switch r.Code {
		case pipeline.CodeOK:
			continue
		case pipeline.CodeAgain:
			select {
			case <-h.ch:
			case <-deadline:
				t.Fatal("timed out waiting for worker pool result")
			}
		case pipeline.CodeNoData:
			if dst.String() != "payload" {
				t.Fatalf("dst = %q", dst.String())
			}
			return
		default:
			t.Fatalf("unexpected result: %v", r)
		}
	}
}

func TestAsciiReaderInsertsCR(t *testing.T) {
	r := NewAsciiReader(bytes.NewBufferString("one\ntwo\r\nthree\n"))
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "one\r\ntwo\r\nthree\r\n" {
		t.Fatalf("got %q", out)
	}
}

func TestAsciiWriterStripsCR(t *testing.T) {
	w := NewAsciiWriter(bytes.NewBufferString("one\r\ntwo\r\nthree\r\n"))
	out, err := io.ReadAll(w)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "one\ntwo\nthree\n" {
		t.Fatalf("got %q", out)
	}
}

func TestProxyLayerParsesTCP4Header(t *testing.T) {
	stream := "PROXY TCP4 1.2.3.4 5.6.7.8 1111 2222\r\nGET / HTTP/1.0\r\n\r\n"
	p := NewProxyLayer(bytes.NewBufferString(stream))
	if err := p.ParseHeader(); err != nil {
		t.Fatal(err)
	}
	if p.RemoteAddr().String() != "1.2.3.4:1111" {
		t.Fatalf("RemoteAddr = %v", p.RemoteAddr())
	}
	rest, err := io.ReadAll(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(rest) != "GET / HTTP/1.0\r\n\r\n" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestProxyLayerRejectsMissingHeader(t *testing.T) {
	p := NewProxyLayer(bytes.NewBufferString("GET / HTTP/1.0\r\n"))
	if err := p.ParseHeader(); err == nil {
		t.Fatal("expected an error for a non-PROXY stream")
	}
}
