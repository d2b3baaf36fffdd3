package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// On-disk shapes. Durations are Go duration strings, line endings are the
// names accepted by protocol.ParseEndOfLine.
type serverFile struct {
	Node        string      `toml:"node" yaml:"node"`
	Addr        string      `toml:"addr" yaml:"addr"`
	Path        string      `toml:"path" yaml:"path"`
	CORSOrigins []string    `toml:"cors_origins" yaml:"cors_origins"`
	FallbackEOL string      `toml:"fallback_eol" yaml:"fallback_eol"`
	AuthToken   string      `toml:"auth_token" yaml:"auth_token"`
	Session     sessionFile `toml:"session" yaml:"session"`
}

type clientFile struct {
	Endpoint    string      `toml:"endpoint" yaml:"endpoint"`
	LineEnding  string      `toml:"line_ending" yaml:"line_ending"`
	FallbackEOL string      `toml:"fallback_eol" yaml:"fallback_eol"`
	Reconnect   bool        `toml:"reconnect" yaml:"reconnect"`
	MaxAttempts int         `toml:"max_attempts" yaml:"max_attempts"`
	UI          uiFile      `toml:"ui" yaml:"ui"`
	AuthToken   string      `toml:"auth_token" yaml:"auth_token"`
	Session     sessionFile `toml:"session" yaml:"session"`
}

type uiFile struct {
	Autoscroll  bool   `toml:"autoscroll" yaml:"autoscroll"`
	Timestamp   bool   `toml:"timestamp" yaml:"timestamp"`
	Interpolate bool   `toml:"interpolate" yaml:"interpolate"`
	DarkTheme   bool   `toml:"dark_theme" yaml:"dark_theme"`
	SerialPort  string `toml:"serial_port" yaml:"serial_port"`
}

type sessionFile struct {
	ConnectTimeout   string      `toml:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout string      `toml:"handshake_timeout" yaml:"handshake_timeout"`
	ReadTimeout      string      `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     string      `toml:"write_timeout" yaml:"write_timeout"`
	PingInterval     string      `toml:"ping_interval" yaml:"ping_interval"`
	MaxFrameBytes    int64       `toml:"max_frame_bytes" yaml:"max_frame_bytes"`
	Backoff          backoffFile `toml:"backoff" yaml:"backoff"`
	TLS              tlsFile     `toml:"tls" yaml:"tls"`
}

type tlsFile struct {
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier" yaml:"multiplier"`
	MaxDelay     string  `toml:"max_delay" yaml:"max_delay"`
	Jitter       bool    `toml:"jitter" yaml:"jitter"`
}

// definedFunc reports whether a dotted key path was present in the file.
type definedFunc func(key ...string) bool

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decodeFile(path string, out any) (definedFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if isYAML(path) {
		return decodeYAML(path, data, out)
	}
	meta, err := toml.Decode(string(data), out)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config parse failed (%s): unknown keys %v", path, undecoded)
	}
	return meta.IsDefined, nil
}

func decodeYAML(path string, data []byte, out any) (definedFunc, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	keys := make(map[string]bool)
	if doc.Kind != 0 {
		if err := doc.Decode(out); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		collectYAMLKeys(&doc, "", keys)
	}
	return func(key ...string) bool {
		return keys[strings.Join(key, ".")]
	}, nil
}

func collectYAMLKeys(n *yaml.Node, prefix string, keys map[string]bool) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, child := range n.Content {
			collectYAMLKeys(child, prefix, keys)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			keys[key] = true
			collectYAMLKeys(n.Content[i+1], key, keys)
		}
	}
}
