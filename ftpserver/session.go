package ftpserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/ftpd/adminproto"
	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/tvfs"
)

// MaxCommandLength bounds a single command line, to keep a misbehaving
// or hostile client from growing readCommand's buffer without limit.
const MaxCommandLength = 4096

// preLoginCommands may run before USER/PASS complete a login: TLS
// negotiation and capability discovery must work on an anonymous
// control connection.
var preLoginCommands = map[string]bool{
	"AUTH": true, "PBSZ": true, "PROT": true, "FEAT": true,
	"HELP": true, "SYST": true, "HOST": true, "OPTS": true,
}

var commandHandlers = map[string]func(*session, string){
	"CWD": (*session).handleCWD, "XCWD": (*session).handleCWD,
	"CDUP": (*session).handleCDUP, "XCUP": (*session).handleCDUP,
	"PWD": (*session).handlePWD, "XPWD": (*session).handlePWD,
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"MKD":  (*session).handleMKD, "XMKD": (*session).handleMKD,
	"RMD": (*session).handleRMD, "XRMD": (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"APPE": (*session).handleAPPE,
	"STOU": (*session).handleSTOU,
	"TYPE": (*session).handleTYPE,
	"PORT": (*session).handlePORT,
	"EPRT": (*session).handleEPRT,
	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,
	"REST": (*session).handleREST,
	"ABOR": (*session).handleABOR,
	"SIZE": (*session).handleSIZE,
	"MDTM": (*session).handleMDTM,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"MLSD": (*session).handleMLSD,
	"MLST": (*session).handleMLST,
	"AUTH": (*session).handleAUTH,
	"PROT": (*session).handlePROT,
	"PBSZ": (*session).handlePBSZ,
	"ACCT": (*session).handleACCT,
	"MODE": (*session).handleMODE,
	"STRU": (*session).handleSTRU,
	"SYST": (*session).handleSYST,
	"STAT": (*session).handleSTAT,
	"HELP": (*session).handleHELP,
	"SITE": (*session).handleSITE,
	"HOST": (*session).handleHOST,
	"HASH": (*session).handleHASH,
	"MFMT": (*session).handleMFMT,
}

// session is one control connection's state, from the accept to the
// QUIT/close. The command loop itself is a blocking goroutine-per-
// connection in the teacher's style; only data-connection transfers are
// routed through the shared eventloop.Loop.
type session struct {
	server *Server
	loop   *eventloop.Loop

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	tnet   *telnetReader

	mu sync.Mutex

	id       string
	remoteIP string

	isLoggedIn bool
	authUser   string // USER argument, pending PASS/the negotiated method
	authSess   auth.Session
	fs         *sessionFS

	renameFrom     string
	restartOffset  int64
	selectedHash   string
	transferType   byte // 'A' or 'I'
	host           string
	prot           string // "C" or "P"

	busy           bool
	transferCancel context.CancelFunc
	transferWG     sync.WaitGroup

	dataConn    net.Conn
	pasvList    net.Listener
	activeIP    string
	activePort  int

	lastPublicHost string
	resolvedIP     string

	tlsEngaged bool

	openFilesMu sync.Mutex
	openFiles   map[string]bool

	cmdReqChan  chan struct{}
	cmdRespChan chan command

	done chan struct{}
}

func newSession(server *Server, conn net.Conn) *session {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	tnet := newTelnetReader(reader)

	prot := "C"
	if _, ok := conn.(*tls.Conn); ok {
		prot = "P"
	}

	return &session{
		server:       server,
		loop:         server.loop,
		conn:         conn,
		reader:       reader,
		writer:       writer,
		tnet:         tnet,
		id:           uuid.NewString(),
		remoteIP:     hostFromAddr(conn.RemoteAddr()),
		transferType: 'A',
		prot:         prot,
		tlsEngaged:   prot == "P",
		openFiles:    make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// Info satisfies registeredSession, for adminserver's ListSessions.
func (s *session) Info() adminproto.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := adminproto.SessionInfo{ID: s.id, RemoteAddr: s.remoteIP}
	if s.isLoggedIn {
		info.User = s.authUser
	}
	s.openFilesMu.Lock()
	for f := range s.openFiles {
		info.OpenFiles = append(info.OpenFiles, f)
	}
	s.openFilesMu.Unlock()
	return info
}

// Kick satisfies registeredSession: it forcibly ends the session.
func (s *session) Kick() {
	s.conn.Close()
}

type command struct {
	line string
	err  error
}

func (s *session) serve() {
	if s.server.registry != nil {
		s.server.registry.Add(s.id, s)
		defer s.server.registry.Remove(s.id)
	}
	defer s.close()

	s.sendWelcome()

	s.cmdReqChan = make(chan struct{})
	s.cmdRespChan = make(chan command)
	go s.runCommandReader()

	for {
		var c command
		s.requestCommand()
		if s.server.maxIdleTime > 0 {
			select {
			case c = <-s.cmdRespChan:
			case <-time.After(s.server.maxIdleTime):
				s.reply(421, "Idle timeout, closing connection.")
				return
			}
		} else {
			c = <-s.cmdRespChan
		}
		if c.err != nil {
			return
		}
		if !s.handleCommand(c.line) {
			return
		}
	}
}

func (s *session) sendWelcome() {
	if len(s.server.welcomeLines) == 0 {
		s.reply(220, "Service ready.")
		return
	}
	lines := s.server.welcomeLines
	for _, l := range lines[:len(lines)-1] {
		fmt.Fprintf(s.writer, "220-%s\r\n", l)
	}
	s.reply(220, lines[len(lines)-1])
}

// requestCommand signals runCommandReader to read one more line. Pairing
// every read with an explicit request (instead of letting the reader
// goroutine free-run) lets handleAUTH pause it across the in-place TLS
// handshake: as long as nothing calls requestCommand during the
// handshake, the reader goroutine stays parked on <-s.cmdReqChan and
// never touches the raw socket the handshake is reading from.
func (s *session) requestCommand() {
	select {
	case s.cmdReqChan <- struct{}{}:
	case <-s.done:
	}
}

func (s *session) runCommandReader() {
	for {
		select {
		case <-s.cmdReqChan:
		case <-s.done:
			return
		}
		line, err := s.readCommand()
		select {
		case s.cmdRespChan <- command{line: line, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) readCommand() (string, error) {
	if s.server.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	}
	var buf []byte
	for {
		b := make([]byte, 1)
		n, err := s.tnet.Read(b)
		if n == 0 && err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			break
		}
		if b[0] != '\r' {
			buf = append(buf, b[0])
		}
		if len(buf) > MaxCommandLength {
			return "", fmt.Errorf("ftpserver: command line exceeds %d bytes", MaxCommandLength)
		}
	}
	return string(buf), nil
}

func (s *session) close() {
	close(s.done)
	s.mu.Lock()
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.mu.Unlock()
	s.transferWG.Wait()

	if s.fs != nil {
		// sessionFS has no OS-level handle to release; nothing to do.
	}
	if s.authSess.ImpersonationToken != nil {
		s.authSess.ImpersonationToken.Release()
	}
	s.mu.Lock()
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	s.mu.Unlock()
	s.writer.Flush()
	s.conn.Close()
}

func (s *session) handleCommand(line string) bool {
	start := time.Now()
	verb, arg := splitCommand(line)
	upper := strings.ToUpper(verb)

	logArg := arg
	if upper == "PASS" {
		logArg = "****"
	}
	s.server.logger.Debug("command", "session", s.id, "verb", upper, "arg", logArg)

	if s.server.disabledCommands[upper] {
		s.reply(502, "Command not implemented.")
		return true
	}

	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()
	if busy && upper != "ABOR" && upper != "STAT" && upper != "QUIT" {
		s.reply(503, "Another transfer is already in progress.")
		return true
	}

	if s.server.requireTLS && !s.tlsEngaged {
		switch upper {
		case "AUTH", "FEAT", "HELP", "QUIT":
		default:
			s.reply(534, "Policy requires TLS before authentication.")
			return true
		}
	}

	var ok bool
	switch upper {
	case "":
		s.reply(500, "Invalid command.")
		ok = true
	case "USER":
		s.handleUSER(arg)
		ok = true
	case "PASS":
		s.handlePASS(arg)
		ok = true
	case "QUIT":
		s.reply(221, "Goodbye.")
		ok = false
	case "NOOP":
		s.reply(200, "NOOP ok.")
		ok = true
	default:
		h, known := commandHandlers[upper]
		if !known {
			s.reply(502, "Command not implemented.")
			ok = true
			break
		}
		if !s.isLoggedIn && !preLoginCommands[upper] {
			s.reply(530, "Please login with USER and PASS.")
			ok = true
			break
		}
		h(s, arg)
		ok = true
	}

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordCommand(upper, true, time.Since(start))
	}
	return ok
}

func splitCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

func (s *session) replyMultiline(code int, lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines[:len(lines)-1] {
		fmt.Fprintf(s.writer, "%d-%s\r\n", code, l)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, lines[len(lines)-1])
	s.writer.Flush()
}

func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(550, "File not found.")
	case os.IsPermission(err):
		s.reply(550, "Permission denied.")
	case os.IsExist(err):
		s.reply(550, "File already exists.")
	case err == tvfs.ErrNotFound:
		s.reply(550, "File not found.")
	default:
		s.reply(550, fmt.Sprintf("Local error: %v.", err))
	}
}
