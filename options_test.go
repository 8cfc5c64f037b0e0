package memcore_test

import (
	"errors"
	"testing"
	"time"

	"github.com/raniellyferreira/memcore"
)

func TestNew(t *testing.T) {
	srv, err := memcore.New(
		memcore.WithListenAddr("127.0.0.1:0"),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Close()

	if srv.Addr() != nil {
		t.Errorf("Addr() before Start = %v, want nil", srv.Addr())
	}
	if st := srv.Stats(); st.Strategy != memcore.MultiThreaded {
		t.Errorf("default strategy = %v, want %v", st.Strategy, memcore.MultiThreaded)
	}
}

func TestNewWithInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  memcore.Option
	}{
		{"empty listen address", memcore.WithListenAddr("")},
		{"unknown strategy", memcore.WithStrategy(memcore.Strategy(7))},
		{"negative workers", memcore.WithWorkers(-1)},
		{"tiny read buffer", memcore.WithReadBufferSize(8)},
		{"zero output queue", memcore.WithMaxOutputQueue(0)},
		{"zero max events", memcore.WithMaxEvents(0)},
		{"zero shards", memcore.WithShardCount(0)},
		{"negative memory", memcore.WithMaxMemory(-1)},
		{"zero script timeout", memcore.WithScriptTimeout(0)},
		{"nil logger", memcore.WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := memcore.New(tt.opt)
			if !errors.Is(err, memcore.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestServerConfiguration(t *testing.T) {
	srv, err := memcore.New(
		memcore.WithListenAddr("127.0.0.1:0"),
		memcore.WithStrategy(memcore.SingleThreaded),
		memcore.WithWorkers(2),
		memcore.WithReadBufferSize(1024),
		memcore.WithMaxOutputQueue(16),
		memcore.WithMaxEvents(32),
		memcore.WithShardCount(4),
		memcore.WithMaxMemory(1024*1024),
		memcore.WithStackSnapshots(true),
		memcore.WithScriptTimeout(time.Second),
		memcore.WithLogger(&testLogger{}),
		memcore.WithMetrics(&testMetrics{}),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Close()

	if st := srv.Stats(); st.Strategy != memcore.SingleThreaded {
		t.Errorf("strategy = %v, want %v", st.Strategy, memcore.SingleThreaded)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    memcore.Strategy
		wantErr bool
	}{
		{in: "multi-threaded", want: memcore.MultiThreaded},
		{in: "MT", want: memcore.MultiThreaded},
		{in: "single-threaded", want: memcore.SingleThreaded},
		{in: " st ", want: memcore.SingleThreaded},
		{in: "forked", wantErr: true},
	}

	for _, tt := range tests {
		got, err := memcore.ParseStrategy(tt.in)
		if tt.wantErr {
			if !errors.Is(err, memcore.ErrInvalidConfig) {
				t.Errorf("ParseStrategy(%q) error = %v, want ErrInvalidConfig", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if back, _ := memcore.ParseStrategy(got.String()); back != got {
			t.Errorf("ParseStrategy(%q.String()) = %v", got, back)
		}
	}
}

func TestVersionInfo(t *testing.T) {
	info := memcore.VersionInfo()
	if info["version"] != memcore.Version {
		t.Errorf("version = %q, want %q", info["version"], memcore.Version)
	}
}

type testLogger struct{}

func (l *testLogger) Debug(msg string, fields ...memcore.Field) {}
func (l *testLogger) Info(msg string, fields ...memcore.Field)  {}
func (l *testLogger) Error(msg string, fields ...memcore.Field) {}

type testMetrics struct{}

func (m *testMetrics) RecordCommandProcessed(cmd string, duration time.Duration) {}
func (m *testMetrics) RecordNetworkBytes(bytes int64)                             {}
func (m *testMetrics) RecordKeyCount(count int64)                                 {}
func (m *testMetrics) RecordMemoryUsage(bytes int64)                              {}
func (m *testMetrics) RecordConnectionClosed()                                    {}
func (m *testMetrics) RecordError(errorType string)                               {}
