package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/observability"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/frame"
	"github.com/danmuck/serialplot/internal/protocol/session"
)

// Stats counts traffic on one connection.
type Stats struct {
	OpenedAt  time.Time
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
}

type readResult struct {
	payload []byte
	err     error
}

// Conn is one websocket carrying protocol messages. Send may be called from
// several goroutines; Receive has a single consumer.
type Conn struct {
	id     string
	role   string
	remote string
	ws     *websocket.Conn
	cfg    session.Config
	limits frame.Limits
	log    zerolog.Logger
	rec    observability.Recorder

	writeMu sync.Mutex

	inbound chan readResult
	readErr error

	closeOnce sync.Once
	closed    chan struct{}

	openedAt  time.Time
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

func newConn(ws *websocket.Conn, role string, opts Options) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		role:     role,
		remote:   ws.RemoteAddr().String(),
		ws:       ws,
		cfg:      opts.Session,
		limits:   frame.Limits{MaxPayloadBytes: opts.Session.MaxFrameBytes},
		rec:      opts.Recorder,
		inbound:  make(chan readResult),
		closed:   make(chan struct{}),
		openedAt: time.Now(),
	}
	c.log = observability.ConnLogger(*opts.Logger, role, c.id, c.remote)

	if c.cfg.ReadTimeout > 0 {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	c.rec.ConnectionOpened(role)
	c.log.Info().Msg("connection open")

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) Stats() Stats {
	return Stats{
		OpenedAt:  c.openedAt,
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		BytesIn:   c.bytesIn.Load(),
		BytesOut:  c.bytesOut.Load(),
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Send encodes msg and writes it as one frame. Encode errors leave the
// connection untouched.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if err := frame.WriteFrame(c.ws, payload, c.limits); err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			return err
		}
		c.log.Debug().Err(err).Msg("write failed")
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(uint64(len(payload)))
	c.rec.MessageSent(c.role, msg.Kind().String())
	return nil
}

func (c *Conn) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// Receive returns the next whole message. A *DecodeError drops one frame and
// the connection stays usable; ErrClosed and ErrPeerDisconnected are
// terminal and repeat on every later call.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	case res, ok := <-c.inbound:
		if !ok {
			if c.isClosed() {
				return nil, ErrClosed
			}
			return nil, c.readErr
		}
		return c.decode(res)
	}
}

func (c *Conn) decode(res readResult) (protocol.Message, error) {
	if res.err != nil {
		c.rec.DecodeFailed(c.role, decodeReason(res.err))
		return nil, &DecodeError{Payload: res.payload, Err: res.err}
	}
	msg, err := protocol.Decode(res.payload)
	if err != nil {
		c.rec.DecodeFailed(c.role, decodeReason(err))
		c.log.Debug().Err(err).Int("bytes", len(res.payload)).Msg("dropped undecodable frame")
		return nil, &DecodeError{Payload: res.payload, Err: err}
	}
	c.rec.MessageReceived(c.role, msg.Kind().String())
	return msg, nil
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrNonText):
		return "non_text"
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, protocol.ErrUnknownVariant):
		return "unknown_variant"
	default:
		return "malformed"
	}
}

// readLoop owns every read on the socket so control frames keep flowing
// while no Receive is pending.
func (c *Conn) readLoop() {
	defer close(c.inbound)
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		payload, err := frame.ReadFrame(c.ws, c.limits)
		if err != nil && !errors.Is(err, frame.ErrNonText) && !errors.Is(err, frame.ErrPayloadTooLarge) {
			c.readErr = c.readFailure(err)
			return
		}
		if err == nil {
			c.framesIn.Add(1)
			c.bytesIn.Add(uint64(len(payload)))
		}
		select {
		case c.inbound <- readResult{payload: payload, err: err}:
		case <-c.closed:
			c.readErr = ErrClosed
			return
		}
	}
}

func (c *Conn) readFailure(err error) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.log.Info().Err(err).Msg("peer disconnected")
	return fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// Close releases the socket. It is idempotent and unblocks a pending
// Receive, which then returns ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		c.rec.ConnectionClosed(c.role)

		stats := c.Stats()
		c.log.Info().
			Dur("uptime", time.Since(stats.OpenedAt)).
			Str("in", fmt.Sprintf("%s frames, %s", humanize.Comma(int64(stats.FramesIn)), humanize.Bytes(stats.BytesIn))).
			Str("out", fmt.Sprintf("%s frames, %s", humanize.Comma(int64(stats.FramesOut)), humanize.Bytes(stats.BytesOut))).
			Msg("connection closed")
	})
	return err
}
