package socketio

import (
	"net"

	"github.com/gonzalop/ftpd/internal/eventloop"
)

// SocketAdapter bundles a ReaderAdder and WriterConsumer bound to the same
// net.Conn, the concrete endpoint pair spec.md §4.1 calls the "socket
// adapter": one connection driving a read-side Adder and a write-side
// Consumer, each independently pluggable into a Pipe.
type SocketAdapter struct {
	Conn net.Conn
	*ReaderAdder
	*WriterConsumer
}

// NewSocketAdapter wraps conn. high_watermark (0 disables) bounds how much
// unread data the read side will buffer before returning ENOBUFS.
func NewSocketAdapter(loop *eventloop.Loop, conn net.Conn, highWatermark int) *SocketAdapter {
	ra := NewReaderAdder(loop, conn)
	ra.HighWatermark = highWatermark
	return &SocketAdapter{
		Conn:           conn,
		ReaderAdder:    ra,
		WriterConsumer: NewWriterConsumer(loop, conn),
	}
}

// Close closes the underlying connection. Any turn already posted to the
// worker pool still completes, reading or writing into a connection that
// is now closed; its error is reported as CodeFatal to whoever still owns
// the endpoint.
func (s *SocketAdapter) Close() error {
	return s.Conn.Close()
}
