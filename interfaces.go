package memcore

import (
	"fmt"
	"log"
	"time"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection
type MetricsCollector interface {
	// RecordCommandProcessed records a processed command with its duration
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordNetworkBytes records network bytes transferred
	RecordNetworkBytes(bytes int64)

	// RecordKeyCount records the current number of keys
	RecordKeyCount(count int64)

	// RecordMemoryUsage records current memory usage
	RecordMemoryUsage(bytes int64)

	// RecordConnectionClosed records a connection teardown
	RecordConnectionClosed()

	// RecordError records an error event
	RecordError(errorType string)
}

// Stats is a snapshot of the server counters
type Stats struct {
	Strategy    Strategy
	Addr        string
	Accepted    uint64
	Active      int64
	Closed      uint64
	KeyCount    int64
	MemoryUsage int64
}

// defaultLogger is a simple logger implementation using the standard log package
type defaultLogger struct {
	debug bool
}

// NewDefaultLogger returns the standard library logger used when none is
// configured. Debug messages are dropped unless debug is set.
func NewDefaultLogger(debug bool) Logger {
	return &defaultLogger{debug: debug}
}

func (l *defaultLogger) Debug(msg string, fields ...Field) {
	if l.debug {
		l.logWithFields("DEBUG", msg, fields...)
	}
}

func (l *defaultLogger) Info(msg string, fields ...Field) {
	l.logWithFields("INFO", msg, fields...)
}

func (l *defaultLogger) Error(msg string, fields ...Field) {
	l.logWithFields("ERROR", msg, fields...)
}

func (l *defaultLogger) logWithFields(level, msg string, fields ...Field) {
	logMsg := level + ": " + msg
	for _, field := range fields {
		logMsg += " " + field.Key + "=" + formatValue(field.Value)
	}
	log.Println(logMsg)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}
