package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/serialplot/internal/client"
	"github.com/danmuck/serialplot/internal/config"
	"github.com/danmuck/serialplot/internal/logging"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/session"
	"github.com/danmuck/serialplot/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "plotterctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet("plotterctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (.toml, .yaml or .yml)")
	endpoint := fs.String("endpoint", "", "websocket endpoint, overrides the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultClientConfig()
	if *configPath != "" {
		loaded, err := config.LoadClientConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
		if err := config.ValidateClientConfig(cfg); err != nil {
			return err
		}
	}

	log := logging.NewRuntime("plotterctl")
	ticks := make(chan []protocol.Entry)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ticks)
		return readTicks(ctx, stdin, ticks, log)
	})
	g.Go(func() error {
		defer cancel()
		return stream(ctx, cfg, ticks, log)
	})
	g.Go(func() error {
		// Unblock the stdin reader once streaming is over.
		<-ctx.Done()
		if c, ok := stdin.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	})
	return g.Wait()
}

// readTicks turns "label:value,label:value" lines into entries.
func readTicks(ctx context.Context, r io.Reader, out chan<- []protocol.Entry, log zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, err := protocol.ParseLine(line)
		if err != nil {
			log.Warn().Err(err).Str("line", line).Msg("skipping input line")
			continue
		}
		if len(data.Entries) == 0 {
			continue
		}
		select {
		case out <- data.Entries:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func stream(ctx context.Context, cfg config.ClientConfig, ticks <-chan []protocol.Entry, log zerolog.Logger) error {
	opts := cfg.ClientOptions(&log, nil)
	initial := cfg.InitialSettings()

	var h *client.Handle
	err := retry(ctx, cfg, log, func() error {
		var err error
		h, err = client.Start(ctx, cfg.Endpoint, initial, opts)
		return err
	})
	if err != nil {
		return err
	}
	defer h.Close()
	go watch(ctx, h, log)

	for {
		select {
		case <-ctx.Done():
			return nil
		case entries, ok := <-ticks:
			if !ok {
				return nil
			}
			err := h.SendData(ctx, entries)
			if err == nil {
				continue
			}
			if !transport.IsTerminal(err) {
				log.Warn().Err(err).Msg("dropped tick")
				continue
			}
			if !cfg.Reconnect {
				return err
			}
			if err := retry(ctx, cfg, log, func() error { return h.Reconnect(ctx) }); err != nil {
				return err
			}
			go watch(ctx, h, log)
			if err := h.SendData(ctx, entries); err != nil {
				log.Warn().Err(err).Msg("dropped tick after reconnect")
			}
		}
	}
}

// watch logs what the peer sends over the current connection. Line ending
// changes are answered inside Messages.
func watch(ctx context.Context, h *client.Handle, log zerolog.Logger) {
	for msg, err := range h.Messages(ctx) {
		if err != nil {
			if transport.IsTerminal(err) || errors.Is(err, context.Canceled) {
				log.Info().Err(err).Msg("connection ended")
				return
			}
			log.Warn().Err(err).Msg("inbound message dropped")
			continue
		}
		switch m := msg.(type) {
		case protocol.EolChange:
			log.Info().Stringer("eol", m.Sequence).Str("state", h.EOL().String()).Msg("line ending changed by peer")
		case protocol.SendMessage:
			log.Info().Str("text", m.Text).Msg("message from plotter")
		default:
			log.Debug().Stringer("kind", msg.Kind()).Msg("inbound")
		}
	}
}

func retry(ctx context.Context, cfg config.ClientConfig, log zerolog.Logger, connect func() error) error {
	backoff := session.NewBackoff(cfg.Session.Backoff, rand.New(rand.NewSource(time.Now().UnixNano())))
	for {
		err := connect()
		if err == nil {
			return nil
		}
		if !cfg.Reconnect || (cfg.MaxAttempts > 0 && backoff.Attempt() >= cfg.MaxAttempts) {
			return err
		}
		delay := backoff.Next()
		log.Warn().Err(err).Int("attempt", backoff.Attempt()).Dur("retry_in", delay).Msg("connect failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
