package memcore

import (
	"context"
	"net"
	"sync"

	"github.com/raniellyferreira/memcore/execute"
	"github.com/raniellyferreira/memcore/lua"
	"github.com/raniellyferreira/memcore/network"
	"github.com/raniellyferreira/memcore/network/mtnonblock"
	"github.com/raniellyferreira/memcore/network/stnonblock"
	"github.com/raniellyferreira/memcore/storage"
)

// Server is an in-memory cache server speaking the memcached text protocol
type Server struct {
	config *config

	// Components
	storage *storage.MemoryStorage
	scripts *lua.Engine
	driver  network.Server

	// State
	mu      sync.RWMutex
	started bool
	closed  bool
	stop    chan struct{}
}

// New creates a new Server with the given options
//
// The server is created but not started. Use Start() to begin accepting
// connections.
//
// Example:
//
//	srv, err := memcore.New(
//		memcore.WithListenAddr(":11211"),
//		memcore.WithMaxMemory(64 * 1024 * 1024),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	stor := storage.NewMemory(
		storage.WithShardCount(cfg.shardCount),
		storage.WithMemoryLimit(cfg.maxMemory),
		storage.WithExpiry(execute.Expired),
	)
	scripts := lua.NewEngine(lua.WithTimeout(cfg.scriptTimeout))
	logger := &loggerAdapter{logger: cfg.logger}

	netCfg := network.Config{
		ReadBufferSize: cfg.readBufferSize,
		MaxOutputQueue: cfg.maxOutputQueue,
		MaxEvents:      cfg.maxEvents,
		Storage:        stor,
		Factory: execute.NewFactory(
			execute.WithVersion(Version),
			execute.WithScriptEngine(scripts),
			execute.WithLogger(logger),
		),
		Logger: logger,
	}

	var observer *metricsObserver
	if cfg.metrics != nil {
		observer = &metricsObserver{metrics: cfg.metrics, storage: stor}
		netCfg.Observer = observer
	}

	s := &Server{
		config:  cfg,
		storage: stor,
		scripts: scripts,
		stop:    make(chan struct{}),
	}

	switch cfg.strategy {
	case SingleThreaded:
		s.driver = stnonblock.New(netCfg, stnonblock.WithStackSnapshots(cfg.stackSnapshots))
	default:
		mtOpts := []mtnonblock.Option{mtnonblock.WithWorkers(cfg.workers)}
		if observer != nil {
			mtOpts = append(mtOpts, mtnonblock.WithErrorHandler(observer.taskFailed))
		}
		s.driver = mtnonblock.New(netCfg, mtOpts...)
	}

	return s, nil
}

// Start binds the listen address and begins serving
//
// Start returns once the listening socket is ready. Cancelling ctx closes
// the server.
//
// Example:
//
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.driver.Start(s.config.listenAddr); err != nil {
		s.config.logger.Error("Failed to start server",
			Field{Key: "error", Value: err},
			Field{Key: "addr", Value: s.config.listenAddr})
		return &ConnectionError{Addr: s.config.listenAddr, Err: err}
	}
	s.started = true

	s.config.logger.Info("Server listening",
		Field{Key: "addr", Value: s.driver.Addr()},
		Field{Key: "strategy", Value: s.config.strategy},
		Field{Key: "version", Value: Version})

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Close(); err != nil {
				s.config.logger.Error("Error closing server", Field{Key: "error", Value: err})
			}
		case <-s.stop:
		}
	}()

	return nil
}

// Close stops the server, closing every connection, and releases the storage
//
// Example:
//
//	defer srv.Close()
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.stop)

	if s.started {
		if err := s.driver.Stop(); err != nil {
			s.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
		}
	}

	s.scripts.ScriptFlush()
	return s.storage.Close()
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	return s.driver.Addr()
}

// Storage returns the underlying storage for direct access
//
// Example:
//
//	if err := srv.Storage().Put("greeting", value); err != nil {
//		return err
//	}
func (s *Server) Storage() storage.Storage {
	return s.storage
}

// Stats returns a snapshot of the server counters
func (s *Server) Stats() Stats {
	ds := s.driver.Stats()
	st := Stats{
		Strategy:    s.config.strategy,
		Accepted:    ds.Accepted,
		Active:      ds.Active,
		Closed:      ds.Closed,
		KeyCount:    s.storage.Len(),
		MemoryUsage: s.storage.MemoryUsage(),
	}
	if addr := s.driver.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	return st
}

// GetInfo returns server information keyed by name
func (s *Server) GetInfo() map[string]interface{} {
	st := s.Stats()
	return map[string]interface{}{
		"strategy":     st.Strategy.String(),
		"addr":         st.Addr,
		"accepted":     st.Accepted,
		"active":       st.Active,
		"closed":       st.Closed,
		"keys":         st.KeyCount,
		"memory_usage": st.MemoryUsage,
		"version":      VersionInfo(),
	}
}
