package adminproto

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload, err := MarshalPayload(AdminLogin{Username: "root", Password: "hunter2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, TagAdminLogin, payload); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(&buf)
	tag, got, err := ReadFrame(r, PreLoginBufferCap)
	if err != nil {
		t.Fatal(err)
	}
	if tag != TagAdminLogin {
		t.Fatalf("tag = %v", tag)
	}
	var msg AdminLogin
	if err := UnmarshalPayload(got, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Username != "root" || msg.Password != "hunter2" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, PreLoginBufferCap+1)
	if err := WriteFrame(&buf, TagGetConfig, payload); err != nil {
		t.Fatal(err)
	}
	r := bufio.NewReader(&buf)
	if _, _, err := ReadFrame(r, PreLoginBufferCap); err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestTagSetCBORRoundTrip(t *testing.T) {
	ts := NewTagSetOf(TagAdminLogin, TagGetConfig, TagListSessions)
	data, err := ts.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	got := NewTagSet()
	if err := got.UnmarshalCBOR(data); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []Tag{TagAdminLogin, TagGetConfig, TagListSessions} {
		if !got.IsAllowed(tag) {
			t.Fatalf("tag %s lost in round-trip", tag.Name())
		}
	}
	if got.IsAllowed(TagKickSession) {
		t.Fatal("unexpected tag allowed after round-trip")
	}
}

func TestDispatcherRejectsDisallowedTag(t *testing.T) {
	d := NewDispatcher(NewTagSetOf(TagAdminLogin))
	called := false
	d.Register(TagGetConfig, func([]byte) error { called = true; return nil })

	if err := d.Dispatch(TagGetConfig, nil); err == nil {
		t.Fatal("expected ErrTagNotAllowed before admin_login")
	}
	if called {
		t.Fatal("handler ran despite being disallowed")
	}

	d.Allow(TagGetConfig)
	if err := d.Dispatch(TagGetConfig, nil); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("handler did not run once allowed")
	}
}

func TestQueueFullAcknowledgementPausesAndResumes(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	s := NewSender(w, NewTagSetOf(TagLogLine, TagAcknowledgeQueueFull))

	big := make([]byte, QueueFullWarningBytes)
	if err := s.Send(TagLogLine, LogLine{Message: string(big)}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Send(TagLogLine, LogLine{Message: "after pause"}) }()

	select {
	case <-done:
		t.Fatal("send completed despite the sender being paused")
	default:
	}

	if err := HandleIncomingAcknowledgeQueueFull(AcknowledgeQueueFull{Success: true}, s); err != nil {
		t.Fatal(err)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
