package server

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kvlite/internal/protocol"
)

var errLineTooLong = errors.New("server: request line too long")

// handleConn serves one client connection until it disconnects, a read or
// write fails, or a line exceeds protocol.MaxLineLength. A line the
// protocol cannot parse gets an ERROR response and the connection stays
// open. Requests are pipelined: the loop
// keeps reading and responding to lines on the same connection without
// waiting for the client to close it.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{
		"conn": connID,
		"peer": conn.RemoteAddr(),
	})
	log.Debug("server: connection opened")

	reader := bufio.NewReader(conn)
	for {
		line, err := readLine(reader, protocol.MaxLineLength)
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("server: connection closed with error")
			}
			return
		}

		resp := s.dispatch(line)
		if _, err := conn.Write(protocol.Format(resp)); err != nil {
			log.WithError(err).Debug("server: write failed")
			return
		}
	}
}

// dispatch parses one request line and executes it against the engine.
func (s *Server) dispatch(line string) protocol.Response {
	cmd, err := protocol.Parse(line)
	if err != nil {
		return protocol.Err("Invalid command")
	}

	switch cmd.Kind {
	case protocol.CmdGet:
		value, ok := s.engine.Get(cmd.Key)
		if !ok {
			return protocol.NotFound()
		}
		return protocol.Value(value)

	case protocol.CmdSet:
		if err := s.engine.Set(cmd.Key, cmd.Value); err != nil {
			return protocol.FromError(err)
		}
		return protocol.OK()

	case protocol.CmdDelete:
		if err := s.engine.Delete(cmd.Key); err != nil {
			return protocol.FromError(err)
		}
		return protocol.OK()

	case protocol.CmdCompact:
		if err := s.engine.Compact(); err != nil {
			return protocol.FromError(err)
		}
		return protocol.OK()

	default:
		return protocol.Err("Invalid command")
	}
}

// readLine reads one '\n'-terminated line, refusing to buffer more than
// maxLen bytes so a client that never sends a newline cannot exhaust
// memory. The trailing newline (and any preceding \r) is stripped.
func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLen {
			return "", errLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", err
	}

	n := len(buf)
	if n > 0 && buf[n-1] == '\n' {
		n--
	}
	if n > 0 && buf[n-1] == '\r' {
		n--
	}
	return string(buf[:n]), nil
}
