package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// handlerSink adapts any slog.Handler into a Subscriber, letting the
// splitter fan out to ordinary handlers (text, JSON, zap-backed) the
// same way it fans out to live admin-session subscribers.
type handlerSink struct {
	h slog.Handler
}

// NewHandlerSink wraps h as a Subscriber.
func NewHandlerSink(h slog.Handler) Subscriber { return &handlerSink{h: h} }

func (s *handlerSink) Enabled(ctx context.Context, level slog.Level) bool {
	return s.h.Enabled(ctx, level)
}

func (s *handlerSink) Handle(ctx context.Context, r slog.Record) error {
	return s.h.Handle(ctx, r)
}

// NewStderrSink builds the default text sink, format-compatible with
// logger/stdio.cpp's stream target, at the given minimum level.
func NewStderrSink(level slog.Level) Subscriber {
	return NewHandlerSink(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// FileSink writes JSON-formatted records to a reopenable file, the
// logrotate-friendly idiom most Unix daemons use in place of a rotation
// library: SIGHUP triggers Reopen, not an in-process rotation policy.
type FileSink struct {
	mu    sync.Mutex
	path  string
	level slog.Level
	f     *os.File
	inner slog.Handler
}

// NewFileSink opens path for appending and returns a Subscriber writing
// JSON records to it.
func NewFileSink(path string, level slog.Level) (*FileSink, error) {
	s := &FileSink{path: path, level: level}
	if err := s.Reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reopen closes and reopens the underlying file, picking up a rename
// done by external log rotation.
func (s *FileSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	old := s.f
	s.f = f
	s.inner = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: s.level})
	if old != nil {
		old.Close()
	}
	return nil
}

func (s *FileSink) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= s.level
}

func (s *FileSink) Handle(ctx context.Context, r slog.Record) error {
	s.mu.Lock()
	h := s.inner
	s.mu.Unlock()
	return h.Handle(ctx, r)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// NewWriterSink returns a thin Subscriber over an arbitrary io.Writer,
// used by tests.
func NewWriterSink(w io.Writer, level slog.Level) Subscriber {
	return NewHandlerSink(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
