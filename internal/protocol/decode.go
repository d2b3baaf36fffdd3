package protocol

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

type rawEnvelope struct {
	Command *CommandName        `json:"command"`
	Data    jsoniter.RawMessage `json:"data"`
}

// Decode parses one whole wire message. Structural failures wrap
// ErrMalformedMessage; an unrecognized command wraps ErrUnknownVariant.
// Unknown fields inside a known variant are ignored.
func Decode(payload []byte) (Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}
	switch trimmed[0] {
	case '[':
		return decodeData(trimmed)
	case '{':
		return decodeEnvelope(trimmed)
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrMalformedMessage)
	}
}

func decodeData(payload []byte) (Message, error) {
	var lines []string
	if err := wireJSON.Unmarshal(payload, &lines); err != nil {
		return nil, fmt.Errorf("%w: data: %w", ErrMalformedMessage, err)
	}
	return parseLines(lines)
}

func decodeEnvelope(payload []byte) (Message, error) {
	var env rawEnvelope
	if err := wireJSON.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %w", ErrMalformedMessage, err)
	}
	if env.Command == nil {
		return nil, fmt.Errorf("%w: missing command", ErrMalformedMessage)
	}
	switch cmd := *env.Command; cmd {
	case CommandOnSettingsDidChange:
		settings, err := decodeSettings(cmd, env.Data)
		if err != nil {
			return nil, err
		}
		return Settings{MonitorSettings: settings}, nil
	case CommandChangeSettings:
		settings, err := decodeSettings(cmd, env.Data)
		if err != nil {
			return nil, err
		}
		if settings.IsLineEndingOnly() {
			eol, _ := settings.LineEnding()
			return EolChange{Sequence: eol}, nil
		}
		return ChangeSettings{MonitorSettings: settings}, nil
	case CommandSendMessage:
		if isAbsent(env.Data) {
			return nil, fmt.Errorf("%w: %s: missing data", ErrMalformedMessage, cmd)
		}
		var text string
		if err := wireJSON.Unmarshal(env.Data, &text); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, cmd, err)
		}
		return SendMessage{Text: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, string(cmd))
	}
}

func decodeSettings(cmd CommandName, raw jsoniter.RawMessage) (MonitorSettings, error) {
	if isAbsent(raw) {
		return MonitorSettings{}, fmt.Errorf("%w: %s: missing data", ErrMalformedMessage, cmd)
	}
	var wire wireMonitorSettings
	if err := wireJSON.Unmarshal(raw, &wire); err != nil {
		return MonitorSettings{}, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, cmd, err)
	}
	settings := MonitorSettings{MonitorUISettings: wire.MonitorUISettings}
	if wire.PluggableMonitorSettings != nil {
		settings.PluggableMonitorSettings = *wire.PluggableMonitorSettings
	}
	if err := validateSettings(settings); err != nil {
		return MonitorSettings{}, err
	}
	return normalizeSettings(settings), nil
}

// normalizeSettings folds empty values lists to nil, matching what Encode
// sends for a nil list.
func normalizeSettings(s MonitorSettings) MonitorSettings {
	for id, setting := range s.PluggableMonitorSettings {
		if len(setting.Values) == 0 {
			setting.Values = nil
			s.PluggableMonitorSettings[id] = setting
		}
	}
	return s
}

func isAbsent(raw jsoniter.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
