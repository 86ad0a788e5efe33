package lineproto

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gonzalop/ftpd/internal/pipeline"
)

// ErrBadTransferEncoding and friends are the HTTP framing error classes
// named in spec.md §4.3; they are fatal (CodeFatal / EINVAL-equivalent).
var (
	ErrBadTransferEncoding  = errors.New("lineproto: unsupported Transfer-Encoding")
	ErrLengthAndChunked     = errors.New("lineproto: Content-Length and Transfer-Encoding: chunked both present")
	ErrBadChunkSize         = errors.New("lineproto: invalid chunk size")
	ErrChunkSizeOverflow    = errors.New("lineproto: chunk size overflow")
	ErrMalformedStartLine   = errors.New("lineproto: malformed start line")
	ErrMalformedHeaderLine  = errors.New("lineproto: malformed header line")
)

type msgState int

const (
	stateStartLine msgState = iota
	stateHeaders
	stateBodyIdentity
	stateChunkSize
	stateChunkBody
	stateChunkCRLF
	stateTrailer
	stateEnd
)

// MessageHooks are the five callbacks an owner overrides, per spec.md
// §4.3. Any non-nil error returned aborts parsing as fatal.
type MessageHooks struct {
	OnStartLine      func(line []byte) error
	OnHeader         func(key, value string) error
	OnBodyChunk      func(chunk []byte) error
	OnEndOfHeaders   func() error
	OnEndOfMessage   func() error
}

// MessageConsumer parses an HTTP/1.x request or response as a state
// machine built on top of a LineConsumer, per spec.md §4.3. It is used by
// the ACME HTTP-01 challenge listener (internal/lineproto is otherwise
// transport-agnostic).
type MessageConsumer struct {
	*LineConsumer

	Hooks       MessageHooks
	MaxLineSize int

	state         msgState
	headers       map[string]string
	contentLength int64
	haveLength    bool
	chunked       bool
	remaining     int64 // bytes left in current body/chunk
}

// NewMessageConsumer builds a MessageConsumer with the given hooks.
func NewMessageConsumer(hooks MessageHooks, maxLineSize int) *MessageConsumer {
	m := &MessageConsumer{Hooks: hooks, MaxLineSize: maxLineSize, headers: map[string]string{}}
	m.LineConsumer = NewLineConsumer(EOLCRLF, maxLineSize, m.onLine)
	return m
}

// ConsumeBuffer implements pipeline.Consumer by delegating line framing to
// the embedded LineConsumer, then driving the body state machine.
func (m *MessageConsumer) ConsumeBuffer() pipeline.Result {
	switch m.state {
	case stateBodyIdentity, stateChunkBody:
		return m.consumeBodyBytes()
	default:
		return m.LineConsumer.ConsumeBuffer()
	}
}

func (m *MessageConsumer) consumeBodyBytes() pipeline.Result {
	buf := m.LineConsumer.Base.Buffer()
	if buf == nil {
		return pipeline.Fatal(pipeline.ErrClosedEndpoint)
	}
	p := buf.Lock()
	view := p.AsView()
	if len(view) == 0 {
		p.Unlock()
		return pipeline.NoData()
	}
	n := int64(len(view))
	if n > m.remaining {
		n = m.remaining
	}
	chunk := make([]byte, n)
	copy(chunk, view[:n])
	p.Consume(int(n))
	p.Unlock()

	if m.Hooks.OnBodyChunk != nil {
		if err := m.Hooks.OnBodyChunk(chunk); err != nil {
			return pipeline.Fatal(err)
		}
	}
	m.remaining -= n

	if m.remaining == 0 {
		if m.state == stateBodyIdentity {
			m.state = stateEnd
			return m.finish()
		}
		m.state = stateChunkCRLF
	}
	return pipeline.OK()
}

func (m *MessageConsumer) onLine(line []byte, _ bool) pipeline.Result {
	switch m.state {
	case stateStartLine:
		if len(line) == 0 {
			return pipeline.Fatal(ErrMalformedStartLine)
		}
		if m.Hooks.OnStartLine != nil {
			if err := m.Hooks.OnStartLine(line); err != nil {
				return pipeline.Fatal(err)
			}
		}
		m.state = stateHeaders
		return pipeline.OK()

	case stateHeaders:
		if len(line) == 0 {
			return m.endHeaders()
		}
		return m.onHeaderLine(line)

	case stateChunkSize:
		return m.onChunkSizeLine(line)

	case stateChunkCRLF:
		// the CRLF after a chunk's data; the line itself must be empty.
		m.state = stateChunkSize
		return pipeline.OK()

	case stateTrailer:
		if len(line) == 0 {
			m.state = stateEnd
			return m.finish()
		}
		return m.onHeaderLine(line)

	default:
		return pipeline.OK()
	}
}

func (m *MessageConsumer) onHeaderLine(line []byte) pipeline.Result {
	s := string(line)
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return pipeline.Fatal(ErrMalformedHeaderLine)
	}
	key := s[:colon]
	value := s[colon+1:]
	value = strings.TrimPrefix(value, " ")

	canon := strings.ToLower(key)
	if existing, ok := m.headers[canon]; ok {
		m.headers[canon] = existing + ", " + value
	} else {
		m.headers[canon] = value
	}

	if canon == "transfer-encoding" {
		te := strings.ToLower(strings.TrimSpace(value))
		if te != "identity" && te != "chunked" {
			return pipeline.Fatal(ErrBadTransferEncoding)
		}
		m.chunked = te == "chunked"
	}
	if canon == "content-length" {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return pipeline.Fatal(ErrBadChunkSize)
		}
		m.contentLength = n
		m.haveLength = true
	}

	if m.Hooks.OnHeader != nil {
		if err := m.Hooks.OnHeader(canon, value); err != nil {
			return pipeline.Fatal(err)
		}
	}
	return pipeline.OK()
}

func (m *MessageConsumer) endHeaders() pipeline.Result {
	if m.chunked && m.haveLength {
		return pipeline.Fatal(ErrLengthAndChunked)
	}
	if m.Hooks.OnEndOfHeaders != nil {
		if err := m.Hooks.OnEndOfHeaders(); err != nil {
			return pipeline.Fatal(err)
		}
	}

	switch {
	case m.chunked:
		m.state = stateChunkSize
	case m.haveLength && m.contentLength > 0:
		m.state = stateBodyIdentity
		m.remaining = m.contentLength
	default:
		m.state = stateEnd
		return m.finish()
	}
	return pipeline.OK()
}

func (m *MessageConsumer) onChunkSizeLine(line []byte) pipeline.Result {
	s := string(line)
	if semi := strings.IndexByte(s, ';'); semi >= 0 {
		s = s[:semi] // chunk extensions are ignored
	}
	s = strings.TrimSpace(s)
	size, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return pipeline.Fatal(ErrBadChunkSize)
	}
	if size > (1<<63)-1 {
		return pipeline.Fatal(ErrChunkSizeOverflow)
	}
	if size == 0 {
		m.state = stateTrailer
		return pipeline.OK()
	}
	m.remaining = int64(size)
	m.state = stateChunkBody
	return pipeline.OK()
}

func (m *MessageConsumer) finish() pipeline.Result {
	if m.Hooks.OnEndOfMessage != nil {
		if err := m.Hooks.OnEndOfMessage(); err != nil {
			return pipeline.Fatal(err)
		}
	}
	return pipeline.Canceled()
}

// Header returns a parsed header's combined value (duplicates joined with
// ", " per spec.md §4.3), and whether it was present.
func (m *MessageConsumer) Header(name string) (string, bool) {
	v, ok := m.headers[strings.ToLower(name)]
	return v, ok
}
