package acmecert

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/gonzalop/ftpd/internal/eventloop"
)

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() { cancel(); loop.Stop() })
	return loop
}

func TestChallengeServerServesPublishedToken(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cs := newChallengeServer(loop, nil)
	cs.publish("tok123", "tok123.key-authz")
	go cs.serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /.well-known/acme-challenge/tok123 HTTP/1.1\r\nHost: example.test\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := make([]byte, len("tok123.key-authz"))
	if _, err := resp.Body.Read(body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "tok123.key-authz" {
		t.Errorf("body = %q, want %q", body, "tok123.key-authz")
	}
}

func TestChallengeServerRejectsUnknownToken(t *testing.T) {
	loop := newTestLoop(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cs := newChallengeServer(loop, nil)
	go cs.serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /.well-known/acme-challenge/unknown HTTP/1.1\r\nHost: example.test\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChallengeServerUnpublishRemovesToken(t *testing.T) {
	cs := newChallengeServer(newTestLoop(t), nil)
	cs.publish("tok", "keyauth")
	if _, ok := cs.lookup("tok"); !ok {
		t.Fatal("expected published token to be found")
	}
	cs.unpublish("tok")
	if _, ok := cs.lookup("tok"); ok {
		t.Error("expected unpublished token to be gone")
	}
}
