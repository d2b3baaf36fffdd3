package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/serialplot/internal/auth"
	"github.com/danmuck/serialplot/internal/client"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/session"
	"github.com/danmuck/serialplot/internal/testutil/testlog"
	"github.com/danmuck/serialplot/internal/transport"
)

type running struct {
	srv      *Server
	addr     string
	endpoint string
	peers    <-chan *Peer
	stop     func()
}

func startServer(t *testing.T) running {
	t.Helper()
	return startServerWith(t, Options{Node: "plotter-test"})
}

func startServerWith(t *testing.T, opts Options) running {
	t.Helper()
	log := testlog.Start(t)
	opts.Logger = &log
	srv, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	peers := make(chan *Peer, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for peer := range srv.Serve(ctx, ln) {
			peers <- peer
		}
	}()
	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return running{
		srv:      srv,
		addr:     ln.Addr().String(),
		endpoint: "ws://" + ln.Addr().String() + "/",
		peers:    peers,
		stop:     stop,
	}
}

func (r running) nextPeer(t *testing.T) *Peer {
	t.Helper()
	select {
	case peer := <-r.peers:
		t.Cleanup(func() { _ = peer.Close() })
		return peer
	case <-time.After(2 * time.Second):
		t.Fatalf("no peer yielded")
		return nil
	}
}

func clientOptions(t *testing.T) client.Options {
	log := testlog.Start(t)
	return client.Options{Logger: &log}
}

func startClient(t *testing.T, endpoint string, initial protocol.Settings) *client.Handle {
	t.Helper()
	h, err := client.Start(context.Background(), endpoint, initial, clientOptions(t))
	if err != nil {
		t.Fatalf("client start: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func receive(t *testing.T, p *Peer) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := p.Receive(ctx)
	if err != nil {
		t.Fatalf("peer receive: %v", err)
	}
	return msg
}

func TestSettingsThenDataEndToEnd(t *testing.T) {
	r := startServer(t)
	h := startClient(t, r.endpoint, protocol.NewEOLSettings(protocol.NewLine))
	peer := r.nextPeer(t)

	msg := receive(t, peer)
	settings, ok := msg.(protocol.Settings)
	if !ok {
		t.Fatalf("first message %T, want Settings", msg)
	}
	if eol, ok := settings.LineEnding(); !ok || eol != protocol.NewLine {
		t.Fatalf("settings line ending=%q ok=%v", eol, ok)
	}
	if eol, ok := peer.EOL().Current(); !ok || eol != protocol.NewLine {
		t.Fatalf("server negotiation=%s", peer.EOL())
	}
	if eol, ok := h.EOL().Current(); !ok || eol != protocol.NewLine {
		t.Fatalf("client negotiation=%s, want agreed(LF)", h.EOL())
	}

	entries := []protocol.Entry{{Label: "temp", Value: 21.5}, {Label: "humidity", Value: 40}}
	if err := h.SendData(context.Background(), entries); err != nil {
		t.Fatalf("send data: %v", err)
	}
	want := protocol.Data{Entries: entries, EOL: protocol.NewLine}
	if got := receive(t, peer); !reflect.DeepEqual(got, want) {
		t.Fatalf("data got %#v want %#v", got, want)
	}
}

func TestServerSettingsPushAgreesOnBothSides(t *testing.T) {
	r := startServer(t)
	h := startClient(t, r.endpoint, protocol.Settings{})
	peer := r.nextPeer(t)
	if _, ok := receive(t, peer).(protocol.Settings); !ok {
		t.Fatalf("expected initial settings")
	}

	push := protocol.NewEOLSettings(protocol.CarriageReturnNewLine)
	if err := peer.SendSettings(context.Background(), push.MonitorSettings); err != nil {
		t.Fatalf("send settings: %v", err)
	}
	if peer.EOL().State() != session.StateAgreed || peer.EOL().LastStep() != session.StepAnnounced {
		t.Fatalf("server negotiation=%s step=%s", peer.EOL(), peer.EOL().LastStep())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for msg, err := range h.Messages(ctx) {
		if err != nil {
			t.Fatalf("client messages: %v", err)
		}
		if !confirms(msg, protocol.CarriageReturnNewLine) {
			t.Fatalf("client got %#v", msg)
		}
		break
	}
	if eol, ok := h.EOL().Current(); !ok || eol != protocol.CarriageReturnNewLine {
		t.Fatalf("client negotiation=%s", h.EOL())
	}

	// The client must not answer settings, so the next frame is data.
	if err := h.SendData(context.Background(), []protocol.Entry{{Label: "v", Value: 2}}); err != nil {
		t.Fatalf("send data: %v", err)
	}
	data, ok := receive(t, peer).(protocol.Data)
	if !ok || data.EOL != protocol.CarriageReturnNewLine {
		t.Fatalf("server got %#v, want CRLF data", data)
	}
	if peer.EOL().State() != session.StateAgreed {
		t.Fatalf("server negotiation=%s after data", peer.EOL())
	}
}

func TestServerProposalIsConfirmedExactlyOnce(t *testing.T) {
	r := startServer(t)
	h := startClient(t, r.endpoint, protocol.Settings{})
	peer := r.nextPeer(t)
	if _, ok := receive(t, peer).(protocol.Settings); !ok {
		t.Fatalf("expected initial settings")
	}
	if h.EOL().State() != session.StateUnset {
		t.Fatalf("client negotiation=%s, want unset", h.EOL())
	}

	if err := peer.ProposeEOL(context.Background(), protocol.CarriageReturnNewLine); err != nil {
		t.Fatalf("propose: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for msg, err := range h.Messages(ctx) {
		if err != nil {
			t.Fatalf("client messages: %v", err)
		}
		if msg != (protocol.EolChange{Sequence: protocol.CarriageReturnNewLine}) {
			t.Fatalf("client got %#v", msg)
		}
		break
	}
	if eol, ok := h.EOL().Current(); !ok || eol != protocol.CarriageReturnNewLine {
		t.Fatalf("client negotiation=%s", h.EOL())
	}

	if got := receive(t, peer); !confirms(got, protocol.CarriageReturnNewLine) {
		t.Fatalf("server got %#v, want confirmation", got)
	}
	if peer.EOL().LastStep() != session.StepConfirmed {
		t.Fatalf("server step=%s", peer.EOL().LastStep())
	}

	if err := h.SendData(context.Background(), []protocol.Entry{{Label: "v", Value: 1}}); err != nil {
		t.Fatalf("send data: %v", err)
	}
	data, ok := receive(t, peer).(protocol.Data)
	if !ok {
		t.Fatalf("a second confirmation crossed the wire")
	}
	if data.EOL != protocol.CarriageReturnNewLine {
		t.Fatalf("data framed with %q", data.EOL)
	}
}

func TestRelayFeedsBoard(t *testing.T) {
	r := startServer(t)
	h := startClient(t, r.endpoint, protocol.NewEOLSettings(protocol.NewLine))
	peer := r.nextPeer(t)

	var kinds []protocol.Kind
	record := SinkFunc(func(_ context.Context, _ string, msg protocol.Message) error {
		kinds = append(kinds, msg.Kind())
		return nil
	})
	relayed := make(chan error, 1)
	go func() {
		relayed <- Relay(context.Background(), peer, Fanout{r.srv.Board(), record})
	}()

	ctx := context.Background()
	if err := h.SendData(ctx, []protocol.Entry{{Label: "temp", Value: 20}, {Label: "humidity", Value: 41}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.SendData(ctx, []protocol.Entry{{Label: "temp", Value: 22.5}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.ProposeEOL(ctx, protocol.CarriageReturn); err != nil {
		t.Fatalf("propose: %v", err)
	}
	_ = h.Close()

	select {
	case err := <-relayed:
		if !transport.IsTerminal(err) {
			t.Fatalf("relay ended with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not end after client close")
	}

	wantKinds := []protocol.Kind{protocol.KindSettings, protocol.KindData, protocol.KindData}
	if !reflect.DeepEqual(kinds, wantKinds) {
		t.Fatalf("relayed kinds=%v want %v", kinds, wantKinds)
	}
	snap := r.srv.Board().Snapshot()
	if len(snap.Lines) != 2 || snap.Lines[0].Label != "temp" || snap.Lines[1].Label != "humidity" {
		t.Fatalf("line order=%+v", snap.Lines)
	}
	if snap.Lines[0].Value != 22.5 || snap.Ticks != 2 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if eol, ok := snap.Settings.LineEnding(); !ok || eol != protocol.NewLine {
		t.Fatalf("board settings line ending=%q", eol)
	}
}

func TestFailedUpgradeIsSkipped(t *testing.T) {
	r := startServer(t)
	resp, err := http.Get("http://" + r.addr + "/")
	if err != nil {
		t.Fatalf("plain get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("plain get status=%d", resp.StatusCode)
	}

	startClient(t, r.endpoint, protocol.Settings{})
	peer := r.nextPeer(t)
	if _, ok := receive(t, peer).(protocol.Settings); !ok {
		t.Fatalf("expected settings from the peer after a failed upgrade")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	r := startServer(t)
	r.stop()
	if conn, err := net.DialTimeout("tcp", r.addr, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		t.Fatalf("listener still accepting after cancel")
	}
	rec := httptest.NewRecorder()
	r.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status=%d after stop", rec.Code)
	}
}

func TestHealthMetricsAndPeersRoutes(t *testing.T) {
	r := startServer(t)
	startClient(t, r.endpoint, protocol.Settings{})
	peer := r.nextPeer(t)
	receive(t, peer)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	health := get("/health")
	if health.Code != http.StatusOK {
		t.Fatalf("health status=%d", health.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(health.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("health body=%s err=%v", health.Body.String(), err)
	}

	if rec := get("/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready status=%d while serving", rec.Code)
	}

	peers := get("/peers")
	var listed struct {
		Peers []PeerInfo `json:"peers"`
	}
	if err := json.Unmarshal(peers.Body.Bytes(), &listed); err != nil {
		t.Fatalf("peers body: %v", err)
	}
	if len(listed.Peers) != 1 || listed.Peers[0].ID != peer.ID() {
		t.Fatalf("peers=%+v", listed.Peers)
	}

	metrics := get("/metrics")
	if metrics.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", metrics.Code)
	}
	for _, name := range []string{
		"serialplot_http_requests_total",
		"serialplot_ws_active_connections",
		"serialplot_protocol_messages_received_total",
	} {
		if !strings.Contains(metrics.Body.String(), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}

	_ = peer.Close()
	if got := r.srv.Peers(); len(got) != 0 {
		t.Fatalf("closed peer still listed: %+v", got)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	log := testlog.Start(t)
	if _, err := New(Options{Path: "/health", Logger: &log}); err == nil {
		t.Fatalf("expected path collision error")
	}
	reg := prometheus.NewRegistry()
	if _, err := New(Options{Registry: reg, Logger: &log}); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(Options{Registry: reg, Logger: &log}); err == nil {
		t.Fatalf("expected duplicate collector registration to fail")
	}
	srv, err := New(Options{Path: "ws", Logger: &log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if srv.opts.Path != "/ws" {
		t.Fatalf("path=%q", srv.opts.Path)
	}
}

func TestServeRejectsSecondLoop(t *testing.T) {
	r := startServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// Wait until the first loop owns the acceptor.
	deadline := time.Now().Add(2 * time.Second)
	for r.srv.acceptor.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	for range r.srv.Serve(context.Background(), ln) {
		t.Fatalf("second Serve yielded a peer")
	}
	if _, err := ln.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("second Serve left its listener open: %v", err)
	}
}

func TestAuthTokenGuardsUpgrade(t *testing.T) {
	r := startServerWith(t, Options{Node: "plotter-test", Auth: auth.StaticToken{Token: "s3cret"}})

	_, err := client.Start(context.Background(), r.endpoint, protocol.Settings{}, clientOptions(t))
	if !errors.Is(err, transport.ErrHandshakeFailed) {
		t.Fatalf("tokenless client: expected ErrHandshakeFailed, got %v", err)
	}

	opts := clientOptions(t)
	opts.AuthToken = "s3cret"
	h, err := client.Start(context.Background(), r.endpoint, protocol.Settings{}, opts)
	if err != nil {
		t.Fatalf("client with token: %v", err)
	}
	defer h.Close()
	peer := r.nextPeer(t)
	if _, ok := receive(t, peer).(protocol.Settings); !ok {
		t.Fatalf("expected settings from the authorized peer")
	}
}

// confirms reports whether msg is a Settings confirmation of eol.
func confirms(msg protocol.Message, eol protocol.EndOfLine) bool {
	s, ok := msg.(protocol.Settings)
	if !ok {
		return false
	}
	got, ok := s.LineEnding()
	return ok && got == eol
}
