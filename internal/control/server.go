package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Server accepts connections on a local unix stream socket and turns each
// newline-delimited JSON request into a Job on Jobs(). Malformed JSON or
// unknown commands get an inline error reply without ever touching the
// supervisor.
type Server struct {
	path string
	log  *logrus.Entry

	ln   net.Listener
	jobs chan Job

	wg sync.WaitGroup
}

// NewServer removes any stale endpoint file at path and binds the control
// socket. Binding happens eagerly so bootstrap can fail fast before any
// worker is spawned.
func NewServer(path string, log *logrus.Entry) (*Server, error) {
	if err := removeStale(path); err != nil {
		return nil, fmt.Errorf("removing stale control socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding control socket %s: %w", path, err)
	}
	return &Server{
		path: path,
		log:  log,
		ln:   ln,
		jobs: make(chan Job, 32),
	}, nil
}

func removeStale(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Jobs returns the channel the supervisor loop selects on.
func (s *Server) Jobs() <-chan Job {
	return s.jobs
}

// Serve accepts connections until the listener is closed. Each connection is
// handled on its own goroutine; Serve blocks the caller, so bootstrap runs
// it inside the shared errgroup.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("control accept: %w", err)
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close stops accepting new connections. The socket's endpoint file is not
// guaranteed to be removed on exit; callers that want a clean unlink should
// remove s.path themselves afterward.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.NewString()
	log := s.log.WithField("conn", connID)

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			reply := s.handleLine(log, line)
			if reply != "" {
				if _, werr := writer.WriteString(reply + "\n"); werr != nil {
					log.WithError(werr).Warn("control: write reply failed")
					return
				}
				if werr := writer.Flush(); werr != nil {
					log.WithError(werr).Warn("control: flush reply failed")
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("control: connection read ended")
			}
			return
		}
	}
}

// handleLine decodes one request line and either forwards it to the
// supervisor and waits for the reply, or answers an error inline.
func (s *Server) handleLine(log *logrus.Entry, line []byte) string {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		log.WithError(err).Debug("control: malformed JSON request")
		return encodeString(fmt.Sprintf("Error: malformed request: %v", err))
	}
	if req.Command == "" {
		return encodeString("Error: missing command")
	}
	switch req.Command {
	case "ehlo", "help", "version", "inc", "dec", "upgrade", "die", "shutdown",
		"signal", "status", "worker:ack":
	default:
		return encodeString(fmt.Sprintf("Error: unknown command %q", req.Command))
	}

	job := Job{Request: req, Reply: make(chan string, 1)}
	s.jobs <- job
	reply := <-job.Reply
	return reply
}

// encodeString mirrors the wire contract: replies are JSON strings.
func encodeString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Marshaling a string cannot fail; this is unreachable.
		return `"internal error"`
	}
	return string(b)
}

// EncodeReply exposes encodeString to the supervisor package so it can
// produce properly JSON-encoded string replies (and, for status, a JSON
// object) without duplicating the wire format here.
func EncodeReply(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return encodeString(fmt.Sprintf("Error: encoding reply: %v", err))
	}
	return string(b)
}
