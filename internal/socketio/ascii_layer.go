package socketio

import (
	"bufio"
	"bytes"
	"io"
)

// AsciiReader wraps an io.Reader and converts LF to CRLF on the fly, for
// ASCII-mode RETR.
type AsciiReader struct {
	r          *bufio.Reader
	prevWasCR  bool // avoids doubling CR if the source is already CRLF
	pending    byte
	hasPending bool
}

// NewAsciiReader wraps r.
func NewAsciiReader(r io.Reader) *AsciiReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &AsciiReader{r: br}
}

func (r *AsciiReader) fill() ([]byte, error) {
	peeked, _ := r.r.Peek(r.r.Buffered())
	if len(peeked) > 0 {
		return peeked, nil
	}
	if _, err := r.r.ReadByte(); err != nil {
		return nil, err
	}
	_ = r.r.UnreadByte()
	peeked, _ = r.r.Peek(r.r.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

// Read implements io.Reader.
func (r *AsciiReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	if r.hasPending {
		p[n] = r.pending
		n++
		r.hasPending = false
		r.pending = 0
	}

	for n < len(p) {
		peeked, err := r.fill()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		idx := bytes.IndexByte(peeked, '\n')
		if idx == -1 {
			toCopy := len(peeked)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], peeked[:toCopy])
			r.prevWasCR = peeked[toCopy-1] == '\r'
			_, _ = r.r.Discard(toCopy)
			n += toCopy
			continue
		}

		toCopy := idx
		if n+toCopy > len(p) {
			toCopy = len(p) - n
		}
		if toCopy > 0 {
			copy(p[n:], peeked[:toCopy])
			r.prevWasCR = peeked[toCopy-1] == '\r'
			_, _ = r.r.Discard(toCopy)
			n += toCopy
		}
		if n >= len(p) {
			return n, nil
		}

		if r.prevWasCR {
			p[n] = '\n'
			n++
			_, _ = r.r.Discard(1)
			r.prevWasCR = false
			continue
		}

		p[n] = '\r'
		n++
		r.prevWasCR = true
		if n < len(p) {
			p[n] = '\n'
			n++
			_, _ = r.r.Discard(1)
			r.prevWasCR = false
		} else {
			r.pending = '\n'
			r.hasPending = true
			_, _ = r.r.Discard(1)
			return n, nil
		}
	}

	return n, nil
}

// AsciiWriter translates CRLF to LF on the fly, for ASCII-mode STOR. It
// presents as an io.Reader so it composes in front of the destination
// WriterConsumer the same way AsciiReader composes in front of a source
// ReaderAdder.
type AsciiWriter struct {
	r *bufio.Reader
}

// NewAsciiWriter wraps r.
func NewAsciiWriter(r io.Reader) *AsciiWriter {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &AsciiWriter{r: br}
}

func (w *AsciiWriter) fill() ([]byte, error) {
	peeked, _ := w.r.Peek(w.r.Buffered())
	if len(peeked) > 0 {
		return peeked, nil
	}
	if _, err := w.r.ReadByte(); err != nil {
		return nil, err
	}
	_ = w.r.UnreadByte()
	peeked, _ = w.r.Peek(w.r.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

// Read implements io.Reader.
func (w *AsciiWriter) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		peeked, err := w.fill()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		idx := bytes.IndexByte(peeked, '\r')
		if idx == -1 {
			toCopy := len(peeked)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], peeked[:toCopy])
			_, _ = w.r.Discard(toCopy)
			n += toCopy
			continue
		}

		toCopy := idx
		if n+toCopy > len(p) {
			toCopy = len(p) - n
		}
		if toCopy > 0 {
			copy(p[n:], peeked[:toCopy])
			_, _ = w.r.Discard(toCopy)
			n += toCopy
		}
		if n >= len(p) {
			return n, nil
		}

		peeked, perr := w.r.Peek(2)
		switch {
		case len(peeked) >= 2 && peeked[1] == '\n':
			_, _ = w.r.Discard(1) // drop CR, next loop copies the LF
		case len(peeked) == 1 && perr != io.EOF:
			return n, nil // lone CR at EOF-so-far; wait for more or real EOF
		// at real EOF a lone CR falls through and is kept verbatim
		default:
			p[n] = '\r'
			n++
			_, _ = w.r.Discard(1)
		}
	}

	return n, nil
}
