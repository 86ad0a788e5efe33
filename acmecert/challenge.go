package acmecert

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/internal/lineproto"
	"github.com/gonzalop/ftpd/internal/pipeline"
	"github.com/gonzalop/ftpd/internal/socketio"
)

// challengeServer answers GET /.well-known/acme-challenge/<token> with
// the matching key authorization, the internal-listener mode spec.md
// §4.9 allows in place of writing a token file under an externally
// configured directory. Each connection is parsed with
// lineproto.MessageConsumer over a pipeline.Channel, the same
// event-driven pattern ftpserver's data transfers use.
type challengeServer struct {
	loop   *eventloop.Loop
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]string
}

func newChallengeServer(loop *eventloop.Loop, logger *slog.Logger) *challengeServer {
	return &challengeServer{loop: loop, logger: logger, tokens: make(map[string]string)}
}

func (cs *challengeServer) publish(token, keyAuthorization string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.tokens[token] = keyAuthorization
}

func (cs *challengeServer) unpublish(token string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.tokens, token)
}

func (cs *challengeServer) lookup(token string) (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	keyAuth, ok := cs.tokens[token]
	return keyAuth, ok
}

func (cs *challengeServer) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go cs.handleConn(conn)
	}
}

const challengePrefix = "/.well-known/acme-challenge/"

func (cs *challengeServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var path string
	done := make(chan struct{})
	var once sync.Once
	signalDone := func() { once.Do(func() { close(done) }) }

	consumer := lineproto.NewMessageConsumer(lineproto.MessageHooks{
		OnStartLine: func(line []byte) error {
			fields := bytes.Fields(line)
			if len(fields) >= 2 {
				path = string(fields[1])
			}
			return nil
		},
		OnEndOfMessage: func() error {
			signalDone()
			return nil
		},
	}, 8192)

	adder := socketio.NewReaderAdder(cs.loop, conn)
	handler := pipeline.DoneHandlerFunc(func(*pipeline.Pipe, pipeline.Done) { signalDone() })
	channel := pipeline.NewChannel(cs.loop, adder, consumer, handler, nil)
	channel.Kick()

	<-done
	channel.Close()

	keyAuth, ok := "", false
	if t, found := bytes.CutPrefix([]byte(path), []byte(challengePrefix)); found {
		keyAuth, ok = cs.lookup(string(t))
	}
	if !ok {
		fmt.Fprint(conn, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		return
	}
	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(keyAuth), keyAuth)
}
