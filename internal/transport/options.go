package transport

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/observability"
	"github.com/danmuck/serialplot/internal/protocol/session"
)

const (
	RoleClient = "client"
	RoleServer = "server"
)

type Options struct {
	Session  session.Config
	Logger   *zerolog.Logger
	Recorder observability.Recorder
	// Header is sent with the dial handshake.
	Header http.Header
	// CheckOrigin guards Upgrade. Nil uses the websocket same-origin check.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	o.Session = o.Session.WithDefaults()
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	o.Recorder = observability.OrNop(o.Recorder)
	return o
}
