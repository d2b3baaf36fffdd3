package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
)

// Dial opens a client connection to a ws:// or wss:// endpoint.
func Dial(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	tlsConfig, err := opts.Session.TLS.ClientTLS()
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Kind: ErrHandshakeFailed, Err: err}
	}
	netDialer := &net.Dialer{Timeout: opts.Session.ConnectTimeout}
	dialer := websocket.Dialer{
		NetDialContext:   netDialer.DialContext,
		HandshakeTimeout: opts.Session.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  tlsConfig,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		cerr := &ConnectError{Endpoint: endpoint, Kind: classifyDialError(err, resp), Err: err}
		opts.Logger.Warn().Err(cerr).Str("endpoint", endpoint).Msg("dial failed")
		return nil, cerr
	}
	return newConn(ws, RoleClient, opts), nil
}

func classifyDialError(err error, resp *http.Response) error {
	if resp != nil {
		return ErrHandshakeFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrHandshakeFailed
}

// Upgrade accepts one websocket peer on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	upgrader := websocket.Upgrader{
		HandshakeTimeout: opts.Session.HandshakeTimeout,
		CheckOrigin:      opts.CheckOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &AcceptError{Remote: r.RemoteAddr, Err: err}
	}
	return newConn(ws, RoleServer, opts), nil
}
