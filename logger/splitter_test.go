package logger

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/ftpd/adminproto"
)

func TestSplitterFansOutToEveryEnabledSubscriber(t *testing.T) {
	s := NewSplitter()
	var a, b bytes.Buffer
	s.Attach(NewWriterSink(&a, slog.LevelInfo))
	s.Attach(NewWriterSink(&b, slog.LevelWarn))

	log := slog.New(s)
	log.Info("hello")
	log.Warn("uh oh")

	if !strings.Contains(a.String(), "hello") || !strings.Contains(a.String(), "uh oh") {
		t.Fatalf("sink a = %q", a.String())
	}
	if strings.Contains(b.String(), "hello") {
		t.Fatalf("sink b should not see info: %q", b.String())
	}
	if !strings.Contains(b.String(), "uh oh") {
		t.Fatalf("sink b missing warn: %q", b.String())
	}
}

func TestSplitterDetachStopsDelivery(t *testing.T) {
	s := NewSplitter()
	var buf bytes.Buffer
	token := s.Attach(NewWriterSink(&buf, slog.LevelInfo))

	log := slog.New(s)
	log.Info("first")
	s.Detach(token)
	log.Info("second")

	if !strings.Contains(buf.String(), "first") || strings.Contains(buf.String(), "second") {
		t.Fatalf("buf = %q", buf.String())
	}
}

func TestFileSinkReopenPicksUpRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ftpd.log")

	sink, err := NewFileSink(path, slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	s := NewSplitter()
	s.Attach(sink)
	log := slog.New(s)
	log.Info("before rotate")

	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	if err := sink.Reopen(); err != nil {
		t.Fatal(err)
	}
	log.Info("after rotate")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "after rotate") {
		t.Fatalf("new file missing post-rotate record: %q", data)
	}

	old, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(old), "before rotate") {
		t.Fatalf("rotated file missing pre-rotate record: %q", old)
	}
}

func TestAdminSinkSendsLogLineFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	sender := adminproto.NewSender(w, adminproto.NewTagSetOf(adminproto.TagLogLine))

	sink := NewAdminSink(sender, slog.LevelInfo, "ftp")
	if !sink.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("admin sink should be enabled at warn when configured for info")
	}

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "disk almost full", 0)
	if err := sink.Handle(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected a frame to be written")
	}
}
