package eventloop

import (
	"context"
	"testing"
	"time"
)

func TestPostEventDeliversInOrder(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	var got []int
	done := make(chan struct{})
	h := HandlerFunc(func(e Event) {
		got = append(got, e.Payload.(int))
		if len(got) == 3 {
			close(done)
		}
	})

	src := "source"
	l.PostEvent(Event{Source: src, Payload: 1}, h)
	l.PostEvent(Event{Source: src, Payload: 2}, h)
	l.PostEvent(Event{Source: src, Payload: 3}, h)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	for i, v := range got {
		if v != i+1 {
			t.Fatalf("got[%d] = %d, want %d (out of order delivery)", i, v, i+1)
		}
	}
}

func TestRetargetDropsStaleEvents(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := "source"
	delivered := make(chan Event, 4)
	h := HandlerFunc(func(e Event) { delivered <- e })

	// Queue an event, then retarget before the loop runs: the event must
	// never reach the handler.
	l.PostEvent(Event{Source: src, Payload: "stale"}, h)
	l.Retarget(src)
	l.PostEvent(Event{Source: src, Payload: "fresh"}, h)

	go l.Run(ctx)
	defer l.Stop()

	select {
	case e := <-delivered:
		if e.Payload != "fresh" {
			t.Fatalf("delivered stale event: %v", e.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e := <-delivered:
		t.Fatalf("unexpected second event delivered: %v", e.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTimerFires(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	done := make(chan struct{})
	l.AddTimer(10*time.Millisecond, HandlerFunc(func(e Event) { close(done) }), nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelTimerPreventsFiring(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	fired := make(chan struct{}, 1)
	id := l.AddTimer(50*time.Millisecond, HandlerFunc(func(e Event) { fired <- struct{}{} }), nil)
	l.CancelTimer(id)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestPostWorkDeliversResult(t *testing.T) {
	l := New(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	done := make(chan any, 1)
	l.PostWork(func() any { return 42 }, HandlerFunc(func(e Event) {
		done <- e.Payload.(WorkResult).Value
	}), "src")

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("got %v, want 42", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never delivered result")
	}
}
