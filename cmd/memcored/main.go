// Command memcored runs a memcore server.
//
// Usage:
//
//	memcored [-config file.toml] [-listen addr] [-strategy mt|st] [-workers n] [-debug]
//
// Flags override the values read from the configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do"

	"github.com/raniellyferreira/memcore"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a TOML configuration file")
		listen      = flag.String("listen", "", "listen address (default :11211)")
		strategy    = flag.String("strategy", "", "connection strategy: multi-threaded (mt) or single-threaded (st)")
		workers     = flag.Int("workers", 0, "epoll workers for the multi-threaded strategy (0 = one per CPU)")
		maxMemory   = flag.Int64("max-memory", 0, "memory limit in bytes (0 = unlimited)")
		debug       = flag.Bool("debug", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	if *showVersion {
		for k, v := range memcore.VersionInfo() {
			fmt.Printf("%s: %s\n", k, v)
		}
		return
	}

	injector := do.New()

	do.ProvideValue[memcore.Logger](injector, memcore.NewDefaultLogger(*debug))
	do.Provide(injector, func(i *do.Injector) ([]memcore.Option, error) {
		var opts []memcore.Option
		if *configPath != "" {
			fileOpts, err := memcore.LoadConfigFile(*configPath)
			if err != nil {
				return nil, err
			}
			opts = append(opts, fileOpts...)
		}
		return append(opts, flagOptions(*listen, *strategy, *workers, *maxMemory)...), nil
	})
	do.Provide(injector, newServer)

	srv, err := do.Invoke[*memcore.Server](injector)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	logger := do.MustInvoke[memcore.Logger](injector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	if err := srv.Close(); err != nil {
		logger.Error("Shutdown failed", memcore.Field{Key: "error", Value: err})
		os.Exit(1)
	}
}

// newServer builds the server from the logger and options in the injector
func newServer(i *do.Injector) (*memcore.Server, error) {
	logger := do.MustInvoke[memcore.Logger](i)
	opts := do.MustInvoke[[]memcore.Option](i)

	return memcore.New(append(opts, memcore.WithLogger(logger))...)
}

// flagOptions converts the command line flags that were set into options
func flagOptions(listen, strategy string, workers int, maxMemory int64) []memcore.Option {
	var opts []memcore.Option
	if listen != "" {
		opts = append(opts, memcore.WithListenAddr(listen))
	}
	if strategy != "" {
		s, err := memcore.ParseStrategy(strategy)
		if err != nil {
			log.Fatalf("Invalid -strategy: %v", err)
		}
		opts = append(opts, memcore.WithStrategy(s))
	}
	if workers > 0 {
		opts = append(opts, memcore.WithWorkers(workers))
	}
	if maxMemory > 0 {
		opts = append(opts, memcore.WithMaxMemory(maxMemory))
	}
	return opts
}
