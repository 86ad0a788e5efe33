package logger

import (
	"context"
	"log/slog"

	"github.com/gonzalop/ftpd/adminproto"
)

// AdminSink fans records to one subscribed administration session as
// log_line frames (§4.8), the Go equivalent of attaching an
// admin-session logger as a child of the hierarchical root.
type AdminSink struct {
	sender *adminproto.Sender
	level  slog.Level
	source string
}

// NewAdminSink wraps sender. source tags every LogLine so the admin
// client can show which listener or subsystem produced it.
func NewAdminSink(sender *adminproto.Sender, level slog.Level, source string) *AdminSink {
	return &AdminSink{sender: sender, level: level, source: source}
}

func (a *AdminSink) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= a.level
}

func (a *AdminSink) Handle(ctx context.Context, r slog.Record) error {
	return a.sender.Send(adminproto.TagLogLine, adminproto.LogLine{
		Level:   r.Level.String(),
		Message: r.Message,
		Source:  a.source,
	})
}
