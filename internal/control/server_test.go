package control

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")
	log := logrus.NewEntry(logrus.New())
	srv, err := NewServer(path, log)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestServerForwardsJobAndReply(t *testing.T) {
	srv := newTestServer(t)

	go func() {
		job := <-srv.Jobs()
		if job.Request.Command != "ehlo" {
			t.Errorf("unexpected command: %q", job.Request.Command)
		}
		job.Reply <- EncodeReply("hello")
	}()

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"command":"ehlo"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply != "\"hello\"\n" {
		t.Errorf("reply = %q, want %q", reply, "\"hello\"\n")
	}
}

func TestServerRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply == "" {
		t.Fatal("expected an inline error reply")
	}
}

func TestServerRejectsMissingCommand(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply != "\"Error: missing command\"\n" {
		t.Errorf("reply = %q", reply)
	}
}
