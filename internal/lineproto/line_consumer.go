// Package lineproto implements the line-oriented and HTTP/1.x message
// consumers of spec.md §4.3: Consumer implementations that sit on a Pipe
// and turn buffered bytes into higher-level callbacks.
package lineproto

import (
	"bytes"
	"errors"

	"github.com/gonzalop/ftpd/internal/pipeline"
)

// ErrLineTooLong is the fatal error for a terminated line longer than
// MaxLineSize. An unterminated run longer than MaxLineSize reports
// CodeNoBufs instead.
var ErrLineTooLong = errors.New("lineproto: line exceeds max line size")

// ErrEmbeddedNUL is a fatal parse error: a NUL byte appeared before the
// terminator.
var ErrEmbeddedNUL = errors.New("lineproto: embedded NUL byte in line")

// EOL selects the terminator a LineConsumer scans for.
type EOL int

const (
	EOLLF   EOL = iota // bare "\n"
	EOLCRLF            // "\r\n"
)

// LineHandler receives each delimited line. more indicates whether the
// underlying buffer held additional bytes past the line just delivered
// (a hint some callers use to batch replies).
type LineHandler func(line []byte, more bool) pipeline.Result

// LineConsumer is a pipeline.Consumer that scans the shared buffer once
// per turn for the configured terminator and invokes Handler with the
// line (terminator excluded).
type LineConsumer struct {
	pipeline.Base

	EOL         EOL
	MaxLineSize int
	Handler     LineHandler
}

// NewLineConsumer builds a LineConsumer. maxLineSize <= 0 means unbounded.
func NewLineConsumer(eol EOL, maxLineSize int, h LineHandler) *LineConsumer {
	return &LineConsumer{EOL: eol, MaxLineSize: maxLineSize, Handler: h}
}

func (c *LineConsumer) terminator() []byte {
	if c.EOL == EOLCRLF {
		return []byte("\r\n")
	}
	return []byte("\n")
}

// ConsumeBuffer implements pipeline.Consumer.
func (c *LineConsumer) ConsumeBuffer() pipeline.Result {
	buf := c.Base.Buffer()
	if buf == nil {
		return pipeline.Fatal(pipeline.ErrClosedEndpoint)
	}

	p := buf.Lock()
	view := p.AsView()
	term := c.terminator()

	idx := bytes.Index(view, term)
	if idx == -1 {
		if nul := bytes.IndexByte(view, 0); nul != -1 {
			p.Unlock()
			return pipeline.Fatal(ErrEmbeddedNUL)
		}
		if c.MaxLineSize > 0 && len(view) > c.MaxLineSize {
			p.Unlock()
			return pipeline.NoBufs()
		}
		p.Unlock()
		return pipeline.NoData()
	}

	if nul := bytes.IndexByte(view[:idx], 0); nul != -1 {
		p.Unlock()
		return pipeline.Fatal(ErrEmbeddedNUL)
	}
	if c.MaxLineSize > 0 && idx > c.MaxLineSize {
		p.Unlock()
		return pipeline.Fatal(ErrLineTooLong)
	}

	line := make([]byte, idx)
	copy(line, view[:idx])
	more := len(view) > idx+len(term)
	p.Consume(idx + len(term))
	p.Unlock()

	if c.Handler == nil {
		return pipeline.OK()
	}
	return c.Handler(line, more)
}
