// Package client is the producer side of a plotter connection: it dials the
// websocket, pushes settings and data, and answers line ending changes from
// the peer.
package client

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/auth"
	"github.com/danmuck/serialplot/internal/observability"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/session"
	"github.com/danmuck/serialplot/internal/transport"
)

var ErrEndpointRequired = errors.New("client: endpoint required")

type Options struct {
	Session  session.Config
	Logger   *zerolog.Logger
	Recorder observability.Recorder
	// FallbackEOL frames data while no line ending has been negotiated.
	FallbackEOL protocol.EndOfLine
	// AuthToken is presented as a bearer token on every dial.
	AuthToken string
}

// Handle is one logical client connection. It survives Reconnect.
type Handle struct {
	endpoint string
	opts     Options
	log      zerolog.Logger
	rec      observability.Recorder
	eol      *session.Negotiation

	mu       sync.Mutex
	conn     *transport.Conn
	settings protocol.MonitorSettings
}

// Start dials endpoint and sends initial. A line ending carried by initial
// is announced to the peer and agreed immediately.
func Start(ctx context.Context, endpoint string, initial protocol.Settings, opts Options) (*Handle, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if err := protocol.Validate(initial); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if !opts.FallbackEOL.Valid() {
		opts.FallbackEOL = protocol.NewLine
	}
	h := &Handle{
		endpoint: endpoint,
		opts:     opts,
		log:      opts.Logger.With().Str("endpoint", endpoint).Logger(),
		rec:      observability.OrNop(opts.Recorder),
		eol:      session.NewNegotiation(),
		settings: initial.MonitorSettings.Clone(),
	}
	conn, err := h.dial(ctx)
	if err != nil {
		return nil, err
	}
	h.conn = conn
	if err := h.sendSettings(ctx, conn, h.settings); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return h, nil
}

func (h *Handle) dial(ctx context.Context) (*transport.Conn, error) {
	return transport.Dial(ctx, h.endpoint, transport.Options{
		Session:  h.opts.Session,
		Logger:   h.opts.Logger,
		Recorder: h.rec,
		Header:   auth.Header(h.opts.AuthToken),
	})
}

func (h *Handle) current() *transport.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// sendSettings sends s. A carried line ending is announced, so this side
// is Agreed on it without waiting for the peer.
func (h *Handle) sendSettings(ctx context.Context, conn *transport.Conn, s protocol.MonitorSettings) error {
	if eol, ok := s.LineEnding(); ok {
		if err := h.eol.Announce(eol); err != nil {
			return err
		}
		h.rec.EOLNegotiated(transport.RoleClient, string(session.StepAnnounced), eol.String())
	}
	return conn.Send(ctx, protocol.Settings{MonitorSettings: s})
}

// SendData sends one tick framed with the current line ending.
func (h *Handle) SendData(ctx context.Context, entries []protocol.Entry) error {
	msg := protocol.NewData(h.eol.Framing(h.opts.FallbackEOL), entries...)
	return h.current().Send(ctx, msg)
}

// SetSettings pushes a settings change and remembers it for Reconnect.
func (h *Handle) SetSettings(ctx context.Context, s protocol.MonitorSettings) error {
	if err := protocol.Validate(protocol.Settings{MonitorSettings: s}); err != nil {
		return err
	}
	h.mu.Lock()
	h.settings = h.settings.Merge(s)
	conn := h.conn
	h.mu.Unlock()
	return h.sendSettings(ctx, conn, s)
}

// ProposeEOL asks the peer to switch line endings. Data keeps using the
// proposed sequence while the confirmation is in flight.
func (h *Handle) ProposeEOL(ctx context.Context, eol protocol.EndOfLine) error {
	msg, err := h.eol.Propose(eol)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.settings = h.settings.WithLineEnding(eol)
	conn := h.conn
	h.mu.Unlock()
	h.rec.EOLNegotiated(transport.RoleClient, string(session.StepProposed), eol.String())
	return conn.Send(ctx, msg)
}

// Messages yields inbound messages until the connection ends or ctx is
// done. Decode errors are yielded and iteration continues; the last pair
// carries the terminal error. An EolChange is confirmed to the peer before
// it is yielded.
func (h *Handle) Messages(ctx context.Context) iter.Seq2[protocol.Message, error] {
	return func(yield func(protocol.Message, error) bool) {
		conn := h.current()
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				var decodeErr *transport.DecodeError
				if errors.As(err, &decodeErr) {
					if !yield(nil, err) {
						return
					}
					continue
				}
				yield(nil, err)
				return
			}
			if err := h.answer(ctx, conn, msg); err != nil {
				yield(msg, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (h *Handle) answer(ctx context.Context, conn *transport.Conn, msg protocol.Message) error {
	out := h.eol.Observe(msg)
	if out.Step == session.StepNone {
		return nil
	}
	h.rec.EOLNegotiated(transport.RoleClient, string(out.Step), out.EOL.String())
	h.log.Debug().Str("step", string(out.Step)).Stringer("eol", out.EOL).Msg("line ending negotiated")
	h.mu.Lock()
	h.settings = h.settings.WithLineEnding(out.EOL)
	h.mu.Unlock()
	if out.Echo == nil {
		return nil
	}
	return conn.Send(ctx, *out.Echo)
}

// Reconnect replaces the connection and resends the last settings. The
// negotiation is reset, then re-agreed on any line ending those carry.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.mu.Lock()
	old := h.conn
	settings := h.settings.Clone()
	h.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	h.eol.Reset()
	conn, err := h.dial(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.log.Info().Str("conn", conn.ID()).Msg("reconnected")
	return h.sendSettings(ctx, conn, settings)
}

// Settings returns the settings the handle last pushed or agreed.
func (h *Handle) Settings() protocol.MonitorSettings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings.Clone()
}

func (h *Handle) EOL() *session.Negotiation { return h.eol }

func (h *Handle) Close() error {
	return h.current().Close()
}
