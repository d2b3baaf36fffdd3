package protocol

import "errors"

var (
	ErrMalformedMessage = errors.New("protocol: malformed message")
	ErrUnknownVariant   = errors.New("protocol: unknown message variant")
	ErrInvalidEOL       = errors.New("protocol: invalid end of line")
	ErrInvalidLabel     = errors.New("protocol: invalid data label")
	ErrInvalidValue     = errors.New("protocol: invalid data value")
	ErrEmptyData        = errors.New("protocol: empty data message")
)

// IsProtocolError reports whether err is a per-message decode/encode failure.
// Protocol errors drop one message; they never invalidate the connection.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnknownVariant)
}
