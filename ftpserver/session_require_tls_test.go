package ftpserver_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/ftpd/acmecert"
	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/ftpserver"
	"github.com/gonzalop/ftpd/internal/eventloop"
)

// startRequireTLSServer builds a require_tls listener and returns its
// address.
func startRequireTLSServer(t *testing.T) string {
	t.Helper()
	authn := auth.New(nil, nil, nil, nil)

	loop := eventloop.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() { cancel(); loop.Stop() })

	entry, err := acmecert.GenerateSelfSigned([]string{"localhost"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	srv, err := ftpserver.NewServer(ln.Addr().String(),
		ftpserver.WithAuthenticator(authn),
		ftpserver.WithEventLoop(loop),
		ftpserver.WithRequireTLS(true),
		ftpserver.WithTLS(&tls.Config{Certificates: []tls.Certificate{entry.Cert}}),
	)
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})

	return ln.Addr().String()
}

func readReplyCode(t *testing.T, r *bufio.Reader) int {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 3 {
		t.Fatalf("malformed reply: %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		t.Fatalf("malformed reply code: %q", line)
	}
	return code
}

// TestRequireTLSRejectsPlaintextUserWith534 covers scenario §8 #3: a
// plaintext USER on a require_tls listener, before AUTH TLS, is refused
// with 534 and the control connection is kept open rather than dropped.
func TestRequireTLSRejectsPlaintextUserWith534(t *testing.T) {
	addr := startRequireTLSServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if code := readReplyCode(t, r); code != 220 {
		t.Fatalf("greeting code = %d, want 220", code)
	}

	fmt.Fprintf(conn, "USER x\r\n")
	if code := readReplyCode(t, r); code != 534 {
		t.Fatalf("USER before AUTH TLS on a require_tls listener = %d, want 534", code)
	}

	// The connection must still be open and usable: AUTH TLS should get
	// its own reply rather than a closed socket.
	fmt.Fprintf(conn, "AUTH TLS\r\n")
	if code := readReplyCode(t, r); code != 234 {
		t.Fatalf("AUTH TLS = %d, want 234", code)
	}
}
