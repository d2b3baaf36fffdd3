package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	Command CommandName `json:"command"`
	Data    any         `json:"data"`
}

// Encode renders msg as its JSON wire text. Output is deterministic and
// Decode(Encode(msg)) reproduces msg.
func Encode(msg Message) ([]byte, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	m, _ := deref(msg)
	switch m := m.(type) {
	case Settings:
		return marshalEnvelope(CommandOnSettingsDidChange, wireSettings(m.MonitorSettings))
	case ChangeSettings:
		return marshalEnvelope(CommandChangeSettings, wireSettings(m.MonitorSettings))
	case EolChange:
		return marshalEnvelope(CommandChangeSettings, MonitorSettings{
			MonitorUISettings: &MonitorModelState{LineEnding: Ptr(m.Sequence)},
		})
	case SendMessage:
		return marshalEnvelope(CommandSendMessage, m.Text)
	case Data:
		return marshal([]string{m.Line()})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, msg)
	}
}

func marshalEnvelope(cmd CommandName, data any) ([]byte, error) {
	return marshal(envelope{Command: cmd, Data: data})
}

func marshal(v any) ([]byte, error) {
	out, err := wireJSON.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return out, nil
}

// wireMonitorSettings is the settings payload as sent. The pointer keeps an
// empty pluggable map on the wire as {} while a nil map stays absent.
type wireMonitorSettings struct {
	PluggableMonitorSettings *PluggableMonitorSettings `json:"pluggableMonitorSettings,omitempty"`
	MonitorUISettings        *MonitorModelState        `json:"monitorUISettings,omitempty"`
}

// wireSettings fills wire defaults the UI expects, such as an empty values
// array on pluggable settings.
func wireSettings(s MonitorSettings) wireMonitorSettings {
	out := s.Clone()
	for id, setting := range out.PluggableMonitorSettings {
		if setting.Values == nil {
			setting.Values = []string{}
			out.PluggableMonitorSettings[id] = setting
		}
	}
	w := wireMonitorSettings{MonitorUISettings: out.MonitorUISettings}
	if out.PluggableMonitorSettings != nil {
		w.PluggableMonitorSettings = &out.PluggableMonitorSettings
	}
	return w
}
