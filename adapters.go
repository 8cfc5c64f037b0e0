package memcore

import (
	"errors"
	"time"

	"github.com/raniellyferreira/memcore/executor"
	"github.com/raniellyferreira/memcore/network"
	"github.com/raniellyferreira/memcore/protocol"
	"github.com/raniellyferreira/memcore/storage"
)

// loggerAdapter adapts our Logger interface to the key/value loggers of the
// network, executor and coroutine packages
type loggerAdapter struct {
	logger Logger
}

func (la *loggerAdapter) Debug(msg string, fields ...interface{}) {
	la.logger.Debug(msg, convertFields(fields...)...)
}

func (la *loggerAdapter) Info(msg string, fields ...interface{}) {
	la.logger.Info(msg, convertFields(fields...)...)
}

func (la *loggerAdapter) Error(msg string, fields ...interface{}) {
	la.logger.Error(msg, convertFields(fields...)...)
}

func convertFields(fields ...interface{}) []Field {
	result := make([]Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result = append(result, Field{
				Key:   key,
				Value: fields[i+1],
			})
		}
	}
	return result
}

// metricsObserver adapts our MetricsCollector to network.Observer
type metricsObserver struct {
	metrics MetricsCollector
	storage storage.Storage
}

func (mo *metricsObserver) CommandProcessed(cmd string, duration time.Duration) {
	mo.metrics.RecordCommandProcessed(cmd, duration)
	mo.metrics.RecordKeyCount(mo.storage.Len())
	mo.metrics.RecordMemoryUsage(mo.storage.MemoryUsage())
}

func (mo *metricsObserver) BytesRead(n int) {
	mo.metrics.RecordNetworkBytes(int64(n))
}

func (mo *metricsObserver) BytesWritten(n int) {
	mo.metrics.RecordNetworkBytes(int64(n))
}

func (mo *metricsObserver) SessionClosed(err error) {
	mo.metrics.RecordConnectionClosed()
	if err != nil {
		mo.metrics.RecordError(errorType(err))
	}
}

// taskFailed reports executor task failures
func (mo *metricsObserver) taskFailed(*executor.TaskError) {
	mo.metrics.RecordError("task")
}

// errorType classifies err for RecordError
func errorType(err error) string {
	var perr *protocol.Error
	switch {
	case errors.Is(err, network.ErrOverflow):
		return "overflow"
	case errors.As(err, &perr):
		return "protocol"
	default:
		return "io"
	}
}
