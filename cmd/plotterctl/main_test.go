package main

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/serialplot/internal/config"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/server"
	"github.com/danmuck/serialplot/internal/testutil/testlog"
)

func TestReadTicksSkipsBadLines(t *testing.T) {
	log := testlog.Start(t)
	in := strings.NewReader("temp:21.5,humidity:40\n\nnot-a-sample\n temp:22 \n")
	out := make(chan []protocol.Entry, 4)
	if err := readTicks(context.Background(), in, out, log); err != nil {
		t.Fatalf("readTicks: %v", err)
	}
	close(out)
	var got [][]protocol.Entry
	for entries := range out {
		got = append(got, entries)
	}
	if len(got) != 2 || len(got[0]) != 2 || got[1][0].Value != 22 {
		t.Fatalf("ticks=%v", got)
	}
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	log := testlog.Start(t)
	cfg := config.DefaultClientConfig()
	cfg.MaxAttempts = 2
	cfg.Session.Backoff.InitialDelay = time.Millisecond
	cfg.Session.Backoff.MaxDelay = time.Millisecond

	calls := 0
	boom := errors.New("boom")
	err := retry(context.Background(), cfg, log, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	cfg.Reconnect = false
	calls = 0
	if err := retry(context.Background(), cfg, log, func() error { calls++; return boom }); !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("no-reconnect err=%v calls=%d", err, calls)
	}
}

func TestRunStreamsStdinToServer(t *testing.T) {
	log := testlog.Start(t)
	srv, err := server.New(server.Options{Logger: &log})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relayed := make(chan error, 1)
	go func() {
		for peer := range srv.Serve(ctx, ln) {
			relayed <- server.Relay(ctx, peer, srv.Board())
			_ = peer.Close()
		}
	}()

	stdin := strings.NewReader("temp:21.5,humidity:40\n")
	if err := run(ctx, []string{"-endpoint", "ws://" + ln.Addr().String() + "/"}, stdin); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case <-relayed:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not finish")
	}
	snap := srv.Board().Snapshot()
	if len(snap.Lines) != 2 || snap.Lines[0].Label != "temp" || snap.Lines[0].Value != 21.5 {
		t.Fatalf("board=%+v", snap.Lines)
	}
	if eol, ok := snap.Settings.LineEnding(); !ok || eol != protocol.NewLine {
		t.Fatalf("settings line ending=%q", eol)
	}
}
