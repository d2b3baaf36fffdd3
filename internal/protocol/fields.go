package protocol

// LabelType is the pluggable monitor setting type. Only "enum" exists.
type LabelType string

const LabelTypeEnum LabelType = "enum"

// PluggableMonitorSetting is one setting of the connected serial device,
// e.g. the baud rate.
//
//	{"id":"baudrate","label":"Baudrate","type":"enum",
//	 "values":["300","9600","115200"],"selectedValue":"9600"}
//
// Values is always sent as an array, so an empty list decodes as nil.
type PluggableMonitorSetting struct {
	ID            *string    `json:"id"`
	Label         *string    `json:"label"`
	Type          *LabelType `json:"type"`
	Values        []string   `json:"values"`
	SelectedValue string     `json:"selectedValue"`
}

// PluggableMonitorSettings maps setting id to setting. A nil map is absent
// on the wire; an empty one is sent as {}.
type PluggableMonitorSettings map[string]PluggableMonitorSetting

// MonitorModelState holds the UI monitor settings. Nil fields are absent on
// the wire and mean "unchanged".
type MonitorModelState struct {
	// Autoscroll keeps serial monitors stuck to the bottom of the window.
	Autoscroll *bool `json:"autoscroll,omitempty"`
	Timestamp  *bool `json:"timestamp,omitempty"`
	// LineEnding is the EOL the UI uses when sending to the board and when
	// splitting data lines.
	LineEnding  *EndOfLine `json:"lineEnding,omitempty"`
	Interpolate *bool      `json:"interpolate,omitempty"`
	DarkTheme   *bool      `json:"darkTheme,omitempty"`
	// WsPort moves the UI to another websocket port. Sending it closes the
	// current connection on the UI side.
	WsPort     *uint16 `json:"wsPort,omitempty"`
	SerialPort *string `json:"serialPort,omitempty"`
	Connected  *bool   `json:"connected,omitempty"`
	Generate   bool    `json:"generate"`
}

// MonitorSettings is the payload of settings commands.
type MonitorSettings struct {
	PluggableMonitorSettings PluggableMonitorSettings `json:"pluggableMonitorSettings,omitempty"`
	MonitorUISettings        *MonitorModelState       `json:"monitorUISettings,omitempty"`
}

// Ptr returns a pointer to v, for optional setting fields.
func Ptr[T any](v T) *T {
	return &v
}

// LineEnding returns the line ending carried by s, if any.
func (s MonitorSettings) LineEnding() (EndOfLine, bool) {
	if s.MonitorUISettings == nil || s.MonitorUISettings.LineEnding == nil {
		return NoLineEnding, false
	}
	return *s.MonitorUISettings.LineEnding, true
}

// WithLineEnding returns a copy of s carrying eol.
func (s MonitorSettings) WithLineEnding(eol EndOfLine) MonitorSettings {
	out := s.Clone()
	if out.MonitorUISettings == nil {
		out.MonitorUISettings = &MonitorModelState{}
	}
	out.MonitorUISettings.LineEnding = Ptr(eol)
	return out
}

// IsLineEndingOnly reports whether s carries a line ending and nothing else.
func (s MonitorSettings) IsLineEndingOnly() bool {
	if len(s.PluggableMonitorSettings) > 0 || s.MonitorUISettings == nil {
		return false
	}
	ui := *s.MonitorUISettings
	if ui.LineEnding == nil {
		return false
	}
	ui.LineEnding = nil
	return ui == MonitorModelState{}
}

// Clone deep-copies s.
func (s MonitorSettings) Clone() MonitorSettings {
	var out MonitorSettings
	if s.PluggableMonitorSettings != nil {
		out.PluggableMonitorSettings = make(PluggableMonitorSettings, len(s.PluggableMonitorSettings))
		for id, setting := range s.PluggableMonitorSettings {
			out.PluggableMonitorSettings[id] = setting.clone()
		}
	}
	if s.MonitorUISettings != nil {
		ui := s.MonitorUISettings.clone()
		out.MonitorUISettings = &ui
	}
	return out
}

func (p PluggableMonitorSetting) clone() PluggableMonitorSetting {
	out := PluggableMonitorSetting{SelectedValue: p.SelectedValue}
	out.ID = clonePtr(p.ID)
	out.Label = clonePtr(p.Label)
	out.Type = clonePtr(p.Type)
	if p.Values != nil {
		out.Values = append([]string(nil), p.Values...)
	}
	return out
}

func (m MonitorModelState) clone() MonitorModelState {
	return MonitorModelState{
		Autoscroll:  clonePtr(m.Autoscroll),
		Timestamp:   clonePtr(m.Timestamp),
		LineEnding:  clonePtr(m.LineEnding),
		Interpolate: clonePtr(m.Interpolate),
		DarkTheme:   clonePtr(m.DarkTheme),
		WsPort:      clonePtr(m.WsPort),
		SerialPort:  clonePtr(m.SerialPort),
		Connected:   clonePtr(m.Connected),
		Generate:    m.Generate,
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Merge returns s updated with every field present in update. Pluggable
// settings are replaced per id.
func (s MonitorSettings) Merge(update MonitorSettings) MonitorSettings {
	out := s.Clone()
	if len(update.PluggableMonitorSettings) > 0 && out.PluggableMonitorSettings == nil {
		out.PluggableMonitorSettings = make(PluggableMonitorSettings, len(update.PluggableMonitorSettings))
	}
	for id, setting := range update.PluggableMonitorSettings {
		out.PluggableMonitorSettings[id] = setting.clone()
	}
	if update.MonitorUISettings == nil {
		return out
	}
	if out.MonitorUISettings == nil {
		out.MonitorUISettings = &MonitorModelState{}
	}
	dst, src := out.MonitorUISettings, update.MonitorUISettings
	mergePtr(&dst.Autoscroll, src.Autoscroll)
	mergePtr(&dst.Timestamp, src.Timestamp)
	mergePtr(&dst.LineEnding, src.LineEnding)
	mergePtr(&dst.Interpolate, src.Interpolate)
	mergePtr(&dst.DarkTheme, src.DarkTheme)
	mergePtr(&dst.WsPort, src.WsPort)
	mergePtr(&dst.SerialPort, src.SerialPort)
	mergePtr(&dst.Connected, src.Connected)
	dst.Generate = src.Generate
	return out
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		*dst = clonePtr(src)
	}
}
