// Package frame reads and writes single websocket text messages. One
// websocket message carries exactly one encoded protocol message.
package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

var (
	ErrNonText         = errors.New("frame: non-text message")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrEmptyPayload    = errors.New("frame: empty payload")
	ErrClosedByPeer    = errors.New("frame: closed by peer")
)

// Limits constrains frame memory use.
type Limits struct {
	MaxPayloadBytes int64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 1 << 20}
}

// Reader is the read half of a websocket. *websocket.Conn implements it.
type Reader interface {
	NextReader() (messageType int, r io.Reader, err error)
}

// Writer is the write half of a websocket. *websocket.Conn implements it.
type Writer interface {
	NextWriter(messageType int) (io.WriteCloser, error)
}

// CloseError reports the close code sent by the peer.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("%s: code=%d %s", ErrClosedByPeer, e.Code, e.Text)
}

func (e *CloseError) Unwrap() error { return ErrClosedByPeer }

// ReadFrame reads one whole message. A binary message is drained and
// rejected with ErrNonText; the socket stays usable.
func ReadFrame(ws Reader, limits Limits) ([]byte, error) {
	messageType, r, err := ws.NextReader()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return nil, err
	}
	if messageType != websocket.TextMessage {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, ErrNonText
	}

	payload, err := io.ReadAll(io.LimitReader(r, limits.MaxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > limits.MaxPayloadBytes {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limits.MaxPayloadBytes)
	}
	return payload, nil
}

// WriteFrame writes payload as one text message.
func WriteFrame(ws Writer, payload []byte, limits Limits) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if int64(len(payload)) > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
