//go:build linux

package mtnonblock

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/memcore/network"
	"github.com/raniellyferreira/memcore/storage"
)

func startServer(t *testing.T, workers int) (*Server, storage.Storage) {
	t.Helper()
	st := storage.NewMemory()
	s := New(network.Config{Storage: st}, WithWorkers(workers))
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, st
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return conn, bufio.NewReader(conn)
}

func TestServerSetGet(t *testing.T) {
	s, _ := startServer(t, 2)
	conn, r := dial(t, s)
	defer conn.Close()

	fmt.Fprintf(conn, "set hello 1 0 5\r\nworld\r\nget hello\r\n")

	want := []string{"STORED\r\n", "VALUE hello 1 5\r\n", "world\r\n", "END\r\n"}
	for _, w := range want {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read error = %v", err)
		}
		if line != w {
			t.Errorf("line = %q, want %q", line, w)
		}
	}
}

func TestServerConcurrentClients(t *testing.T) {
	s, st := startServer(t, 4)

	const clients = 16
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", s.Addr().String(), 5*time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			r := bufio.NewReader(conn)

			for j := 0; j < 20; j++ {
				key := fmt.Sprintf("k%d-%d", i, j)
				fmt.Fprintf(conn, "set %s 0 0 %d\r\n%s\r\n", key, len(key), key)
				line, err := r.ReadString('\n')
				if err != nil || line != "STORED\r\n" {
					errs <- fmt.Errorf("client %d: got %q, %v", i, line, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if got := st.Len(); got != clients*20 {
		t.Errorf("stored keys = %d, want %d", got, clients*20)
	}
	if got := s.Stats().Accepted; got != clients {
		t.Errorf("accepted = %d, want %d", got, clients)
	}
}

func TestServerQuitReleasesSession(t *testing.T) {
	s, _ := startServer(t, 1)
	conn, r := dial(t, s)
	defer conn.Close()

	fmt.Fprintf(conn, "quit\r\n")
	if _, err := r.ReadString('\n'); err != io.EOF {
		t.Errorf("read after quit error = %v, want EOF", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Closed != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want one closed session", s.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Stats().Active != 0 {
		t.Errorf("active = %d, want 0", s.Stats().Active)
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	st := storage.NewMemory()
	s := New(network.Config{Storage: st}, WithWorkers(2))
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var conns []net.Conn
	for i := 0; i < 4; i++ {
		conn, r := dial(t, s)
		defer conn.Close()
		fmt.Fprintf(conn, "version\r\n")
		if line, err := r.ReadString('\n'); err != nil || !strings.HasPrefix(line, "VERSION") {
			t.Fatalf("version = %q, %v", line, err)
		}
		conns = append(conns, conn)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for _, conn := range conns {
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err == nil {
			t.Error("connection still open after Stop")
		}
	}

	stats := s.Stats()
	if stats.Active != 0 || stats.Closed != 4 {
		t.Errorf("stats after Stop = %+v", stats)
	}
	if s.Executor().State().String() != "stopped" {
		t.Errorf("executor state = %v", s.Executor().State())
	}
	if err := s.Start("127.0.0.1:0"); err != network.ErrServerClosed {
		t.Errorf("Start() after Stop error = %v, want ErrServerClosed", err)
	}
}
