package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/serialplot/internal/protocol"
	"github.com/danmuck/serialplot/internal/protocol/session"
)

// ServerConfig configures plotterd.
type ServerConfig struct {
	Node        string
	Addr        string
	Path        string
	CORSOrigins []string
	FallbackEOL protocol.EndOfLine
	// AuthToken, when set, is required from websocket peers.
	AuthToken string
	Session   session.Config
}

// ClientConfig configures plotterctl.
type ClientConfig struct {
	Endpoint string
	// LineEnding is announced on connect when set.
	LineEnding  *protocol.EndOfLine
	FallbackEOL protocol.EndOfLine
	Reconnect   bool
	// MaxAttempts bounds consecutive reconnect attempts; 0 retries forever.
	MaxAttempts int
	UI          protocol.MonitorModelState
	AuthToken   string
	Session     session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Node:        "plotterd",
		Addr:        ":8080",
		Path:        "/",
		FallbackEOL: protocol.NewLine,
		Session:     session.DefaultConfig(),
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:    "ws://localhost:8080/",
		LineEnding:  protocol.Ptr(protocol.NewLine),
		FallbackEOL: protocol.NewLine,
		Reconnect:   true,
		Session:     session.DefaultConfig(),
	}
}

// LoadServerConfig overlays the keys present in path on the defaults.
// Files ending in .yaml or .yml are read as YAML, anything else as TOML.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	var raw serverFile
	defined, err := decodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, err
	}

	if defined("node") {
		cfg.Node = strings.TrimSpace(raw.Node)
	}
	if defined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if defined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if defined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if defined("fallback_eol") {
		eol, err := protocol.ParseEndOfLine(raw.FallbackEOL)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse fallback_eol: %w", err)
		}
		cfg.FallbackEOL = eol
	}
	if defined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if err := applySession(&cfg.Session, raw.Session, defined); err != nil {
		return ServerConfig{}, err
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	var raw clientFile
	defined, err := decodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, err
	}

	if defined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if defined("line_ending") {
		if strings.TrimSpace(raw.LineEnding) == "" {
			cfg.LineEnding = nil
		} else {
			eol, err := protocol.ParseEndOfLine(raw.LineEnding)
			if err != nil {
				return ClientConfig{}, fmt.Errorf("parse line_ending: %w", err)
			}
			cfg.LineEnding = &eol
		}
	}
	if defined("fallback_eol") {
		eol, err := protocol.ParseEndOfLine(raw.FallbackEOL)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse fallback_eol: %w", err)
		}
		cfg.FallbackEOL = eol
	}
	if defined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if defined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if defined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if defined("ui", "autoscroll") {
		cfg.UI.Autoscroll = protocol.Ptr(raw.UI.Autoscroll)
	}
	if defined("ui", "timestamp") {
		cfg.UI.Timestamp = protocol.Ptr(raw.UI.Timestamp)
	}
	if defined("ui", "interpolate") {
		cfg.UI.Interpolate = protocol.Ptr(raw.UI.Interpolate)
	}
	if defined("ui", "dark_theme") {
		cfg.UI.DarkTheme = protocol.Ptr(raw.UI.DarkTheme)
	}
	if port := strings.TrimSpace(raw.UI.SerialPort); defined("ui", "serial_port") && port != "" {
		cfg.UI.SerialPort = protocol.Ptr(port)
	}
	if err := applySession(&cfg.Session, raw.Session, defined); err != nil {
		return ClientConfig{}, err
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func applySession(cfg *session.Config, raw sessionFile, defined definedFunc) error {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
	}
	for _, d := range durations {
		if !defined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if defined("session", "max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}

	backoff := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"initial_delay", raw.Backoff.InitialDelay, &cfg.Backoff.InitialDelay},
		{"max_delay", raw.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
	}
	for _, d := range backoff {
		if !defined("session", "backoff", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse session.backoff.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if defined("session", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if defined("session", "backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	tlsPaths := []struct {
		key string
		raw string
		dst *string
	}{
		{"cert_file", raw.TLS.CertFile, &cfg.TLS.CertFile},
		{"key_file", raw.TLS.KeyFile, &cfg.TLS.KeyFile},
		{"ca_file", raw.TLS.CAFile, &cfg.TLS.CAFile},
	}
	for _, p := range tlsPaths {
		if defined("session", "tls", p.key) {
			*p.dst = strings.TrimSpace(p.raw)
		}
	}
	if defined("session", "tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Node) == "" {
		return fmt.Errorf("server config missing node")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("server config path must start with /: %q", cfg.Path)
	}
	if !cfg.FallbackEOL.Valid() {
		return fmt.Errorf("server config fallback_eol invalid")
	}
	return cfg.Session.Validate()
}

func ValidateClientConfig(cfg ClientConfig) error {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("client config endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client config endpoint must be ws:// or wss://: %q", cfg.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("client config endpoint missing host: %q", cfg.Endpoint)
	}
	if cfg.LineEnding != nil && !cfg.LineEnding.Valid() {
		return fmt.Errorf("client config line_ending invalid")
	}
	if !cfg.FallbackEOL.Valid() {
		return fmt.Errorf("client config fallback_eol invalid")
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("client config max_attempts must be >= 0")
	}
	return cfg.Session.Validate()
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
