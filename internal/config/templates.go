package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/serialplot/internal/protocol/session"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// Template renders the default config of kind. YAML is rendered when
// format is "yaml" or "yml", TOML otherwise.
func Template(kind, format string) ([]byte, error) {
	var doc any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		doc = serverFileFrom(DefaultServerConfig())
	case KindClient:
		doc = clientFileFrom(DefaultClientConfig())
	default:
		return nil, fmt.Errorf("unknown config kind: %s", kind)
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		return yaml.Marshal(doc)
	default:
		return toml.Marshal(doc)
	}
}

// WriteTemplate writes the default config of kind to path. The format
// follows the path extension.
func WriteTemplate(path, kind string, overwrite bool) error {
	format := "toml"
	if isYAML(path) {
		format = "yaml"
	}
	template, err := Template(kind, format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}

func serverFileFrom(cfg ServerConfig) serverFile {
	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{}
	}
	return serverFile{
		Node:        cfg.Node,
		Addr:        cfg.Addr,
		Path:        cfg.Path,
		CORSOrigins: origins,
		FallbackEOL: cfg.FallbackEOL.String(),
		AuthToken:   cfg.AuthToken,
		Session:     sessionFileFrom(cfg.Session),
	}
}

func clientFileFrom(cfg ClientConfig) clientFile {
	out := clientFile{
		Endpoint:    cfg.Endpoint,
		FallbackEOL: cfg.FallbackEOL.String(),
		Reconnect:   cfg.Reconnect,
		MaxAttempts: cfg.MaxAttempts,
		UI: uiFile{
			Autoscroll:  true,
			Interpolate: true,
		},
		AuthToken: cfg.AuthToken,
		Session:   sessionFileFrom(cfg.Session),
	}
	if cfg.LineEnding != nil {
		out.LineEnding = cfg.LineEnding.String()
	}
	return out
}

func sessionFileFrom(cfg session.Config) sessionFile {
	return sessionFile{
		ConnectTimeout:   cfg.ConnectTimeout.String(),
		HandshakeTimeout: cfg.HandshakeTimeout.String(),
		ReadTimeout:      cfg.ReadTimeout.String(),
		WriteTimeout:     cfg.WriteTimeout.String(),
		PingInterval:     cfg.PingInterval.String(),
		MaxFrameBytes:    cfg.MaxFrameBytes,
		Backoff: backoffFile{
			InitialDelay: cfg.Backoff.InitialDelay.String(),
			Multiplier:   cfg.Backoff.Multiplier,
			MaxDelay:     cfg.Backoff.MaxDelay.String(),
			Jitter:       cfg.Backoff.Jitter,
		},
		TLS: tlsFile{
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			CAFile:             cfg.TLS.CAFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		},
	}
}
