package lineproto

import (
	"testing"

	"github.com/gonzalop/ftpd/internal/buffer"
	"github.com/gonzalop/ftpd/internal/pipeline"
)

func TestLineConsumerSplitsOnCRLF(t *testing.T) {
	var got [][]byte
	c := NewLineConsumer(EOLCRLF, 0, func(line []byte, more bool) pipeline.Result {
		cp := append([]byte(nil), line...)
		got = append(got, cp)
		return pipeline.OK()
	})
	b := buffer.NewUnsafe(0)
	c.SetBuffer(b)
	p := b.Lock()
	p.Append([]byte("USER anon\r\nPASS x\r\n"))
	p.Unlock()

	for {
		r := c.ConsumeBuffer()
		if r.Code != pipeline.CodeOK {
			break
		}
	}

	if len(got) != 2 || string(got[0]) != "USER anon" || string(got[1]) != "PASS x" {
		t.Fatalf("got %q", got)
	}
}

func TestLineConsumerMaxLineSizeBoundary(t *testing.T) {
	c := NewLineConsumer(EOLCRLF, 5, func(line []byte, more bool) pipeline.Result {
		return pipeline.OK()
	})
	b := buffer.NewUnsafe(0)
	c.SetBuffer(b)

	// exactly max_line_size bytes then terminator: accepted.
	p := b.Lock()
	p.Append([]byte("12345\r\n"))
	p.Unlock()
	if r := c.ConsumeBuffer(); r.Code != pipeline.CodeOK {
		t.Fatalf("boundary line rejected: %v", r)
	}

	// one more byte, no terminator yet: ENOBUFS.
	p = b.Lock()
	p.Append([]byte("123456"))
	p.Unlock()
	if r := c.ConsumeBuffer(); r.Code != pipeline.CodeNoBufs {
		t.Fatalf("over-long unterminated line: got %v, want CodeNoBufs", r)
	}
}

func TestLineConsumerEmbeddedNULIsFatal(t *testing.T) {
	c := NewLineConsumer(EOLLF, 0, func(line []byte, more bool) pipeline.Result {
		return pipeline.OK()
	})
	b := buffer.NewUnsafe(0)
	c.SetBuffer(b)
	p := b.Lock()
	p.Append([]byte("ab\x00cd\n"))
	p.Unlock()

	r := c.ConsumeBuffer()
	if r.Code != pipeline.CodeFatal || r.Err != ErrEmbeddedNUL {
		t.Fatalf("got %v, want fatal ErrEmbeddedNUL", r)
	}
}

func TestLineConsumerNoDataWhenNoTerminator(t *testing.T) {
	c := NewLineConsumer(EOLLF, 0, func(line []byte, more bool) pipeline.Result {
		return pipeline.OK()
	})
	b := buffer.NewUnsafe(0)
	c.SetBuffer(b)
	p := b.Lock()
	p.Append([]byte("partial"))
	p.Unlock()

	if r := c.ConsumeBuffer(); r.Code != pipeline.CodeNoData {
		t.Fatalf("got %v, want CodeNoData", r)
	}
}
