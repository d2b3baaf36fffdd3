package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/auth"
	"github.com/danmuck/serialplot/internal/client"
	"github.com/danmuck/serialplot/internal/observability"
	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/server"
)

func (c ServerConfig) ServerOptions(logger *zerolog.Logger, registry *prometheus.Registry) server.Options {
	return server.Options{
		Node:        c.Node,
		Path:        c.Path,
		CORSOrigins: c.CORSOrigins,
		Session:     c.Session,
		Logger:      logger,
		Registry:    registry,
		FallbackEOL: c.FallbackEOL,
		Auth:        c.validator(),
	}
}

func (c ServerConfig) validator() auth.Validator {
	if c.AuthToken == "" {
		return nil
	}
	return auth.StaticToken{Token: c.AuthToken}
}

func (c ClientConfig) ClientOptions(logger *zerolog.Logger, rec observability.Recorder) client.Options {
	return client.Options{
		Session:     c.Session,
		Logger:      logger,
		Recorder:    rec,
		FallbackEOL: c.FallbackEOL,
		AuthToken:   c.AuthToken,
	}
}

// InitialSettings is what plotterctl sends on every connect.
func (c ClientConfig) InitialSettings() protocol.Settings {
	ui := c.UI
	if c.LineEnding != nil {
		ui.LineEnding = protocol.Ptr(*c.LineEnding)
	}
	ui.Connected = protocol.Ptr(true)
	return protocol.Settings{MonitorSettings: protocol.MonitorSettings{MonitorUISettings: &ui}}
}
