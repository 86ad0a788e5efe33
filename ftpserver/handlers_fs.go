package ftpserver

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

func (s *session) handlePWD(arg string) {
	wd, _ := s.fs.GetWd()
	s.reply(257, fmt.Sprintf("%q is the current directory.", wd))
}

func (s *session) handleCWD(arg string) {
	if err := s.fs.ChangeDir(arg); err != nil {
		s.replyError(err)
		return
	}
	wd, _ := s.fs.GetWd()

	if s.server.enableDirMessage {
		if lines := s.readDirMessage(wd); len(lines) > 0 {
			lines = append(lines, fmt.Sprintf("Directory changed to %s.", wd))
			s.replyMultiline(250, lines)
			return
		}
	}
	s.reply(250, fmt.Sprintf("Directory changed to %s.", wd))
}

func (s *session) readDirMessage(wd string) []string {
	r, err := s.fs.OpenFile(path.Join(wd, ".message"), os.O_RDONLY)
	if err != nil {
		return nil
	}
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(string(data), "\r\n"), "\n")
}

func (s *session) handleCDUP(arg string) {
	s.handleCWD("..")
}

func (s *session) handleLIST(arg string) {
	_, arg, recursive := parseListFlags(arg)

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer s.closeDataConn()

	s.reply(150, "Here comes the directory listing.")
	w := bufio.NewWriter(conn)
	if recursive {
		s.listRecursive(w, arg)
	} else {
		entries, err := s.fs.ListDir(arg)
		if err != nil {
			w.Flush()
			s.replyError(err)
			return
		}
		for _, e := range entries {
			fmt.Fprint(w, formatListEntry(e))
		}
	}
	w.Flush()
	s.reply(226, "Transfer complete.")
}

func parseListFlags(arg string) (flags, path string, recursive bool) {
	fields := strings.Fields(arg)
	var rest []string
	for _, f := range fields {
		if strings.HasPrefix(f, "-") {
			if strings.Contains(f, "R") {
				recursive = true
			}
			continue
		}
		rest = append(rest, f)
	}
	return "", strings.Join(rest, " "), recursive
}

func (s *session) listRecursive(w io.Writer, dir string) {
	entries, err := s.fs.ListDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		fmt.Fprint(w, formatListEntry(e))
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		sub := path.Join(dir, e.Name)
		fmt.Fprintf(w, "\r\n%s:\r\n", sub)
		s.listRecursive(w, sub)
	}
}

func formatListEntry(e Entry) string {
	return fmt.Sprintf("%s 1 owner group %d %s %s\r\n",
		e.Mode.String(), e.Size, e.ModTime.Format("Jan 02 15:04"), e.Name)
}

func (s *session) handleNLST(arg string) {
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
		fmt.Fprintf(w, "%s\r\n", e.Name)
	}
	w.Flush()
	s.reply(226, "Transfer complete.")
}

func (s *session) handleMKD(arg string) {
	if err := s.fs.MakeDir(arg); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("mkd", "session", s.id, "path", s.server.redactPath(arg))
	s.reply(257, fmt.Sprintf("%q created.", arg))
}

func (s *session) handleRMD(arg string) {
	if err := s.fs.RemoveDir(arg); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("rmd", "session", s.id, "path", s.server.redactPath(arg))
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(arg string) {
	if err := s.fs.DeleteFile(arg); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("dele", "session", s.id, "path", s.server.redactPath(arg))
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(arg string) {
	if _, err := s.fs.GetFileInfo(arg); err != nil {
		s.replyError(err)
		return
	}
	s.mu.Lock()
	s.renameFrom = arg
	s.mu.Unlock()
	s.reply(350, "Ready for RNTO.")
}

func (s *session) handleRNTO(arg string) {
	s.mu.Lock()
	from := s.renameFrom
	s.renameFrom = ""
	s.mu.Unlock()
	if from == "" {
		s.reply(503, "RNFR required first.")
		return
	}
	if err := s.fs.Rename(from, arg); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("rename", "session", s.id,
		"from", s.server.redactPath(from), "to", s.server.redactPath(arg))
	s.reply(250, "Rename successful.")
}

func (s *session) handleSITE(arg string) {
	verb, rest := splitCommand(arg)
	switch strings.ToUpper(verb) {
	case "HELP":
		s.reply(214, "CHMOD is the only supported SITE command.")
	case "CHMOD":
		modeStr, target := splitCommand(rest)
		mode, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil || mode > 0o777 {
			s.reply(501, "Invalid mode.")
			return
		}
		if err := s.fs.Chmod(target, os.FileMode(mode)); err != nil {
			s.replyError(err)
			return
		}
		s.reply(200, "SITE CHMOD successful.")
	default:
		s.reply(502, "Unknown SITE command.")
	}
}

func (s *session) handleHASH(arg string) {
	s.mu.Lock()
	algo := s.selectedHash
	s.mu.Unlock()
	if algo == "" {
		algo = "SHA-256"
	}
	sum, err := s.fs.GetHash(arg, algo)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("%s %s %s", algo, sum, arg))
}

func (s *session) handleSIZE(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

func (s *session) handleMDTM(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
}

func (s *session) handleMFMT(arg string) {
	ts, target := splitCommand(arg)
	t, err := time.Parse("20060102150405", ts)
	if err != nil {
		s.reply(501, "Invalid timestamp.")
		return
	}
	if err := s.fs.SetTime(target, t); err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("Modify=%s; %s", ts, target))
}
