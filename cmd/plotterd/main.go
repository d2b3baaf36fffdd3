package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/serialplot/internal/config"
	"github.com/danmuck/serialplot/internal/logging"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/server"
	"github.com/danmuck/serialplot/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "plotterd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plotterd", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (.toml, .yaml or .yml)")
	addr := fs.String("addr", "", "listen address, overrides the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log := logging.NewRuntime("plotterd")
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := server.New(cfg.ServerOptions(&log, registry))
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	tlsConfig, err := cfg.Session.TLS.ServerTLS()
	if err != nil {
		_ = ln.Close()
		return err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
		log.Info().Str("addr", cfg.Addr).Msg("serving wss")
	}

	sink := server.Fanout{srv.Board(), logSink(log)}
	var g errgroup.Group
	for peer := range srv.Serve(ctx, ln) {
		g.Go(func() error {
			defer peer.Close()
			err := server.Relay(ctx, peer, sink)
			switch {
			case err == nil, errors.Is(err, context.Canceled), transport.IsTerminal(err):
				log.Info().Str("peer", peer.ID()).Msg("relay finished")
			default:
				log.Warn().Err(err).Str("peer", peer.ID()).Msg("relay failed")
			}
			return nil
		})
	}
	return g.Wait()
}

func logSink(log zerolog.Logger) server.Sink {
	return server.SinkFunc(func(_ context.Context, peerID string, msg protocol.Message) error {
		switch m := msg.(type) {
		case protocol.Data:
			log.Debug().
				Str("peer", peerID).
				Str("line", strings.TrimRight(m.Line(), "\r\n")).
				Stringer("eol", m.EOL).
				Msg("data")
		case protocol.Settings:
			eol, _ := m.LineEnding()
			log.Info().Str("peer", peerID).Stringer("eol", eol).Msg("settings")
		}
		return nil
	})
}
