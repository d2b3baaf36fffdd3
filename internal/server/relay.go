package server

import (
	"context"
	"errors"

	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/transport"
)

// Sink receives relayed settings and data.
type Sink interface {
	Deliver(ctx context.Context, peerID string, msg protocol.Message) error
}

type SinkFunc func(ctx context.Context, peerID string, msg protocol.Message) error

func (f SinkFunc) Deliver(ctx context.Context, peerID string, msg protocol.Message) error {
	return f(ctx, peerID, msg)
}

// Fanout delivers to every sink in order and stops at the first error.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, peerID string, msg protocol.Message) error {
	for _, sink := range f {
		if err := sink.Deliver(ctx, peerID, msg); err != nil {
			return err
		}
	}
	return nil
}

// Relay forwards Data and Settings from peer to sink until the connection
// ends, ctx is done, or sink fails. Undecodable frames are logged and
// skipped.
func Relay(ctx context.Context, peer *Peer, sink Sink) error {
	for {
		msg, err := peer.Receive(ctx)
		if err != nil {
			var decodeErr *transport.DecodeError
			if errors.As(err, &decodeErr) {
				peer.log.Warn().Err(err).Msg("relay skipped frame")
				continue
			}
			return err
		}
		switch m := msg.(type) {
		case protocol.Data, protocol.Settings:
			if err := sink.Deliver(ctx, peer.ID(), m); err != nil {
				return err
			}
		case protocol.EolChange, protocol.ChangeSettings, protocol.SendMessage:
			peer.log.Debug().Stringer("kind", m.Kind()).Msg("relay ignored message")
		default:
			peer.log.Warn().Msgf("relay: unexpected message %T", m)
		}
	}
}
