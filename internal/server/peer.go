package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/observability"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/session"
	"github.com/danmuck/serialplot/internal/transport"
)

// Peer is one accepted websocket. Receive must have a single consumer; the
// send methods may be called concurrently.
type Peer struct {
	conn     *transport.Conn
	eol      *session.Negotiation
	fallback protocol.EndOfLine
	log      zerolog.Logger
	rec      observability.Recorder
	since    time.Time

	onClose   func(*Peer)
	closeOnce sync.Once
}

func newPeer(conn *transport.Conn, fallback protocol.EndOfLine, log zerolog.Logger, rec observability.Recorder, onClose func(*Peer)) *Peer {
	return &Peer{
		conn:     conn,
		eol:      session.NewNegotiation(),
		fallback: fallback,
		log:      log.With().Str("peer", conn.ID()).Logger(),
		rec:      observability.OrNop(rec),
		since:    time.Now(),
		onClose:  onClose,
	}
}

func (p *Peer) ID() string { return p.conn.ID() }

func (p *Peer) RemoteAddr() string { return p.conn.RemoteAddr() }

func (p *Peer) EOL() *session.Negotiation { return p.eol }

// Receive returns the next message. Line ending changes are applied, and
// confirmed to the peer when required, before the message is returned.
func (p *Peer) Receive(ctx context.Context) (protocol.Message, error) {
	msg, err := p.conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	out := p.eol.Observe(msg)
	if out.Step == session.StepNone {
		return msg, nil
	}
	p.rec.EOLNegotiated(transport.RoleServer, string(out.Step), out.EOL.String())
	p.log.Debug().Str("step", string(out.Step)).Stringer("eol", out.EOL).Msg("line ending negotiated")
	if out.Echo != nil {
		if err := p.conn.Send(ctx, *out.Echo); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

func (p *Peer) Send(ctx context.Context, msg protocol.Message) error {
	return p.conn.Send(ctx, msg)
}

// ProposeEOL starts a negotiation towards the peer.
func (p *Peer) ProposeEOL(ctx context.Context, eol protocol.EndOfLine) error {
	msg, err := p.eol.Propose(eol)
	if err != nil {
		return err
	}
	p.rec.EOLNegotiated(transport.RoleServer, string(session.StepProposed), eol.String())
	return p.conn.Send(ctx, msg)
}

// SendSettings pushes settings to the peer. Settings are authoritative, so a
// carried line ending is agreed as soon as it is sent.
func (p *Peer) SendSettings(ctx context.Context, s protocol.MonitorSettings) error {
	if eol, ok := s.LineEnding(); ok {
		if err := p.eol.Announce(eol); err != nil {
			return err
		}
		p.rec.EOLNegotiated(transport.RoleServer, string(session.StepAnnounced), eol.String())
	}
	return p.conn.Send(ctx, protocol.Settings{MonitorSettings: s})
}

// SendData sends one tick framed with the negotiated line ending.
func (p *Peer) SendData(ctx context.Context, entries ...protocol.Entry) error {
	return p.conn.Send(ctx, protocol.NewData(p.eol.Framing(p.fallback), entries...))
}

func (p *Peer) Close() error {
	err := p.conn.Close()
	p.closeOnce.Do(func() {
		if p.onClose != nil {
			p.onClose(p)
		}
	})
	return err
}
