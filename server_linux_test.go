//go:build linux

package memcore_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/memcore"
)

// countingMetrics records calls for assertions
type countingMetrics struct {
	mu       sync.Mutex
	commands map[string]int
	bytes    int64
	closed   int
	errors   []string
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{commands: make(map[string]int)}
}

func (m *countingMetrics) RecordCommandProcessed(cmd string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd]++
}

func (m *countingMetrics) RecordNetworkBytes(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += bytes
}

func (m *countingMetrics) RecordKeyCount(count int64)    {}
func (m *countingMetrics) RecordMemoryUsage(bytes int64) {}

func (m *countingMetrics) RecordConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *countingMetrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorType)
}

func (m *countingMetrics) snapshot() (map[string]int, int64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmds := make(map[string]int, len(m.commands))
	for k, v := range m.commands {
		cmds[k] = v
	}
	return cmds, m.bytes, m.closed
}

var strategies = []memcore.Strategy{memcore.MultiThreaded, memcore.SingleThreaded}

func startServer(t *testing.T, opts ...memcore.Option) *memcore.Server {
	t.Helper()
	opts = append([]memcore.Option{
		memcore.WithListenAddr("127.0.0.1:0"),
		memcore.WithLogger(&testLogger{}),
	}, opts...)

	srv, err := memcore.New(opts...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *memcore.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return conn, bufio.NewReader(conn)
}

func expectLines(t *testing.T, r *bufio.Reader, want ...string) {
	t.Helper()
	for _, w := range want {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read error = %v (want %q)", err, w)
		}
		if line != w {
			t.Fatalf("line = %q, want %q", line, w)
		}
	}
}

func TestServerEndToEnd(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			srv := startServer(t, memcore.WithStrategy(strategy), memcore.WithWorkers(2))
			conn, r := dial(t, srv)
			defer conn.Close()

			fmt.Fprint(conn, "set greeting 3 0 5\r\nhello\r\n")
			expectLines(t, r, "STORED\r\n")

			fmt.Fprint(conn, "append greeting 0 0 6\r\n world\r\nget greeting missing\r\n")
			expectLines(t, r, "STORED\r\n", "VALUE greeting 3 11\r\n", "hello world\r\n", "END\r\n")

			fmt.Fprint(conn, "set n 0 0 2\r\n41\r\nincr n 1\r\ndecr n 100\r\n")
			expectLines(t, r, "STORED\r\n", "42\r\n", "0\r\n")

			fmt.Fprint(conn, "delete greeting\r\ndelete greeting\r\n")
			expectLines(t, r, "DELETED\r\n", "NOT_FOUND\r\n")

			fmt.Fprint(conn, "version\r\nbogus\r\n")
			expectLines(t, r, "VERSION "+memcore.Version+"\r\n", "ERROR\r\n")

			if v, ok := srv.Storage().Get("n"); !ok || len(v) == 0 {
				t.Error("storage does not hold key n")
			}
		})
	}
}

func TestServerScripts(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			srv := startServer(t, memcore.WithStrategy(strategy))
			conn, r := dial(t, srv)
			defer conn.Close()

			script := `return cache.call("set", KEYS[1], "from-lua")`
			fmt.Fprintf(conn, "eval %d k\r\n%s\r\nget k\r\n", len(script), script)
			expectLines(t, r,
				"VALUE result 0 2\r\n", "OK\r\n", "END\r\n",
				"VALUE k 0 8\r\n", "from-lua\r\n", "END\r\n",
			)

			read := `return cache.call("get", KEYS[1])`
			fmt.Fprintf(conn, "script_load %d\r\n%s\r\n", len(read), read)
			sha, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read error = %v", err)
			}
			fmt.Fprintf(conn, "evalsha %s k\r\n", sha[:len(sha)-2])
			expectLines(t, r, "VALUE result 0 8\r\n", "from-lua\r\n", "END\r\n")
		})
	}
}

func TestServerMetrics(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			metrics := newCountingMetrics()
			srv := startServer(t, memcore.WithStrategy(strategy), memcore.WithMetrics(metrics))

			conn, r := dial(t, srv)
			fmt.Fprint(conn, "set a 0 0 1\r\nx\r\nget a\r\nquit\r\n")
			expectLines(t, r, "STORED\r\n", "VALUE a 0 1\r\n", "x\r\n", "END\r\n")
			if _, err := r.ReadString('\n'); !errors.Is(err, io.EOF) {
				t.Errorf("read after quit error = %v, want EOF", err)
			}
			conn.Close()

			deadline := time.Now().Add(5 * time.Second)
			for {
				cmds, bytes, closed := metrics.snapshot()
				if closed == 1 {
					if cmds["set"] != 1 || cmds["get"] != 1 {
						t.Errorf("commands = %v", cmds)
					}
					if bytes == 0 {
						t.Error("no network bytes recorded")
					}
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("connection close not recorded: closed = %d", closed)
				}
				time.Sleep(10 * time.Millisecond)
			}

			if st := srv.Stats(); st.Accepted != 1 || st.KeyCount != 1 {
				t.Errorf("Stats() = %+v", st)
			}
		})
	}
}

func TestServerLifecycle(t *testing.T) {
	srv, err := memcore.New(
		memcore.WithListenAddr("127.0.0.1:0"),
		memcore.WithLogger(&testLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(ctx); !errors.Is(err, memcore.ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	conn, r := dial(t, srv)
	defer conn.Close()

	// Cancelling the start context closes the server and its connections
	cancel()
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("connection still open after cancel")
	}

	if err := srv.Start(context.Background()); !errors.Is(err, memcore.ErrClosed) {
		t.Errorf("Start() after close error = %v, want ErrClosed", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServerAddrInUse(t *testing.T) {
	first := startServer(t)

	srv, err := memcore.New(
		memcore.WithListenAddr(first.Addr().String()),
		memcore.WithLogger(&testLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Close()

	var cerr *memcore.ConnectionError
	if err := srv.Start(context.Background()); !errors.As(err, &cerr) {
		t.Errorf("Start() error = %v, want *ConnectionError", err)
	}
}

func TestServerDeepPipeline(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			srv := startServer(t, memcore.WithStrategy(strategy), memcore.WithMaxOutputQueue(64))
			conn, r := dial(t, srv)
			defer conn.Close()

			const requests = 20000
			payload := []byte(strings.Repeat("version\r\n", requests))
			written := make(chan error, 1)
			go func() {
				_, err := conn.Write(payload)
				written <- err
			}()

			want := "VERSION " + memcore.Version + "\r\n"
			for i := 0; i < requests; i++ {
				line, err := r.ReadString('\n')
				if err != nil {
					t.Fatalf("reply %d: read error = %v", i, err)
				}
				if line != want {
					t.Fatalf("reply %d = %q, want %q", i, line, want)
				}
			}
			if err := <-written; err != nil {
				t.Errorf("write error = %v", err)
			}
		})
	}
}

func TestServerRejectedValueIsNotExecuted(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			srv := startServer(t, memcore.WithStrategy(strategy))
			conn, r := dial(t, srv)
			defer conn.Close()

			body := strings.Repeat("delete victim\r\n", 70000)
			go fmt.Fprintf(conn, "set victim 0 0 2\r\nok\r\nset big 0 0 %d\r\n%s\r\nget victim\r\n", len(body), body)

			expectLines(t, r,
				"STORED\r\n",
				"CLIENT_ERROR object too large for cache\r\n",
				"VALUE victim 0 2\r\n", "ok\r\n", "END\r\n",
			)
		})
	}
}
