package ftpserver

import (
	"bufio"
	"fmt"
	"strings"
)

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "A", "A N":
		s.mu.Lock()
		s.transferType = 'A'
		s.mu.Unlock()
		s.reply(200, "Type set to ASCII.")
	case "I", "L 8":
		s.mu.Lock()
		s.transferType = 'I'
		s.mu.Unlock()
		s.reply(200, "Type set to BINARY.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handleSYST(arg string) {
	s.reply(215, s.server.serverName)
}

func (s *session) handleSTAT(arg string) {
	if arg != "" {
		s.reply(502, "STAT on a path is not implemented.")
		return
	}
	s.mu.Lock()
	user := s.authUser
	loggedIn := s.isLoggedIn
	s.mu.Unlock()
	lines := []string{
		fmt.Sprintf("Connected to %s", s.server.redactIP(s.remoteIP)),
		"Logged in: " + boolLabel(loggedIn) + " (" + user + ")",
		"TYPE: ASCII, FORM: Nonprint; STRUcture: File; transfer MODE: Stream",
	}
	s.replyMultiline(211, append([]string{"FTP server status:"}, append(lines, "End of status")...))
}

func (s *session) handleHELP(arg string) {
	lines := []string{
		"The following commands are recognized:",
		"USER PASS QUIT NOOP CWD CDUP PWD LIST NLST MKD RMD DELE RNFR RNTO",
		"RETR STOR APPE STOU TYPE PORT PASV EPSV EPRT REST ABOR SIZE MDTM",
		"FEAT OPTS MLSD MLST AUTH PROT PBSZ ACCT MODE STRU SYST STAT HELP",
		"SITE HOST HASH MFMT",
	}
	s.replyMultiline(214, lines)
}

func (s *session) handleACCT(arg string) {
	s.reply(202, "ACCT command superfluous.")
}

func (s *session) handleMODE(arg string) {
	switch strings.ToUpper(arg) {
	case "S":
		s.reply(200, "Mode set to Stream.")
	default:
		s.reply(504, "Mode not supported.")
	}
}

func (s *session) handleSTRU(arg string) {
	switch strings.ToUpper(arg) {
	case "F":
		s.reply(200, "Structure set to File.")
	default:
		s.reply(504, "Structure not supported.")
	}
}

func (s *session) handleHOST(arg string) {
	s.mu.Lock()
	loggedIn := s.isLoggedIn
	s.mu.Unlock()
	if loggedIn {
		s.reply(503, "HOST must be issued before login.")
		return
	}
	s.mu.Lock()
	s.host = arg
	s.mu.Unlock()
	s.reply(220, "HOST accepted.")
}

func (s *session) handleFEAT(arg string) {
	lines := []string{"Features:",
		"SIZE", "MDTM", "PASV", "EPSV", "EPRT", "UTF8", "TVFS",
		"MLST type*;size*;modify*;",
		"REST STREAM",
		"HOST",
		"HASH SHA-1;SHA-256;SHA-512;MD5;CRC32",
		"MFMT",
	}
	if !s.server.disableMLSD {
		lines = append(lines, "MLSD")
	}
	if s.server.tlsConfig != nil {
		lines = append(lines, "AUTH TLS", "PBSZ", "PROT")
	}
	lines = append(lines, "End")
	s.replyMultiline(211, lines)
}

func (s *session) handleOPTS(arg string) {
	verb, rest := splitCommand(arg)
	switch strings.ToUpper(verb) {
	case "UTF8":
		s.reply(200, "UTF8 set to on.")
	case "HASH":
		algo := strings.ToUpper(strings.TrimSpace(rest))
		switch algo {
		case "SHA-1", "SHA-256", "SHA-512", "MD5", "CRC32":
			s.mu.Lock()
			s.selectedHash = algo
			s.mu.Unlock()
			s.reply(200, fmt.Sprintf("HASH set to %s.", algo))
		default:
			s.reply(504, "Unsupported HASH algorithm.")
		}
	default:
		s.reply(501, "Unknown option.")
	}
}

func (s *session) handleMLSD(arg string) {
	if s.server.disableMLSD {
		s.reply(502, "MLSD disabled.")
		return
	}
	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer s.closeDataConn()

	entries, err := s.fs.ListDir(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(150, "Here comes the directory listing.")
	w := bufio.NewWriter(conn)
	for _, e := range entries {
		fmt.Fprint(w, formatMLEntry(e))
	}
	w.Flush()
	s.reply(226, "Transfer complete.")
}

func (s *session) handleMLST(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	e := Entry{Name: arg, IsDir: info.IsDir(), Size: info.Size(), Mode: info.Mode(), ModTime: info.ModTime()}
	s.replyMultiline(250, []string{"Listing " + arg, formatMLEntry(e), "End"})
}

func formatMLEntry(e Entry) string {
	kind := "file"
	if e.IsDir {
		kind = "dir"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s\r\n",
		kind, e.Size, e.ModTime.UTC().Format("20060102150405"), e.Name)
}
