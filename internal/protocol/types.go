package protocol

// CommandName is the "command" tag of an enveloped message.
type CommandName string

const (
	// CommandOnSettingsDidChange flows from the middleware to the plotter UI.
	CommandOnSettingsDidChange CommandName = "ON_SETTINGS_DID_CHANGE"
	// CommandSendMessage flows from the plotter UI to the middleware.
	CommandSendMessage CommandName = "SEND_MESSAGE"
	// CommandChangeSettings flows from the plotter UI to the middleware.
	CommandChangeSettings CommandName = "CHANGE_SETTINGS"
)

// Kind identifies a Message variant.
type Kind uint8

const (
	KindSettings Kind = iota + 1
	KindData
	KindEolChange
	KindChangeSettings
	KindSendMessage
)

func (k Kind) String() string {
	switch k {
	case KindSettings:
		return "settings"
	case KindData:
		return "data"
	case KindEolChange:
		return "eol_change"
	case KindChangeSettings:
		return "change_settings"
	case KindSendMessage:
		return "send_message"
	default:
		return "unknown"
	}
}

// Message is one whole wire message. The variant set is closed: only the
// types declared in this package implement it.
type Message interface {
	Kind() Kind
	isMessage()
}

// Settings pushes monitor settings to the peer (ON_SETTINGS_DID_CHANGE).
// A line ending carried here also confirms an EOL proposal.
type Settings struct {
	MonitorSettings
}

// Data is one sample tick: ordered label/value entries framed with EOL.
type Data struct {
	Entries []Entry
	EOL     EndOfLine
}

// Entry is one labeled sample. The label identifies a data line in the UI.
type Entry struct {
	Label string
	Value float64
}

// EolChange proposes or confirms a line ending. On the wire it is a
// CHANGE_SETTINGS whose only content is monitorUISettings.lineEnding.
type EolChange struct {
	Sequence EndOfLine
}

// ChangeSettings is any other settings change requested by the UI.
type ChangeSettings struct {
	MonitorSettings
}

// SendMessage carries text the UI wants written to the board.
type SendMessage struct {
	Text string
}

func (Settings) Kind() Kind       { return KindSettings }
func (Data) Kind() Kind           { return KindData }
func (EolChange) Kind() Kind      { return KindEolChange }
func (ChangeSettings) Kind() Kind { return KindChangeSettings }
func (SendMessage) Kind() Kind    { return KindSendMessage }

func (Settings) isMessage()       {}
func (Data) isMessage()           {}
func (EolChange) isMessage()      {}
func (ChangeSettings) isMessage() {}
func (SendMessage) isMessage()    {}

// NewData builds a Data message framed with eol.
func NewData(eol EndOfLine, entries ...Entry) Data {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return Data{Entries: out, EOL: eol}
}

// Labels returns entry labels in order.
func (d Data) Labels() []string {
	out := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, e.Label)
	}
	return out
}

// NewEOLSettings builds a Settings message that only carries a line ending.
func NewEOLSettings(eol EndOfLine) Settings {
	return Settings{MonitorSettings: MonitorSettings{
		MonitorUISettings: &MonitorModelState{LineEnding: Ptr(eol)},
	}}
}

// deref unwraps pointer variants so callers may pass either form.
func deref(msg Message) (Message, bool) {
	switch m := msg.(type) {
	case *Settings:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *Data:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *EolChange:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *ChangeSettings:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *SendMessage:
		if m == nil {
			return nil, false
		}
		return *m, true
	case nil:
		return nil, false
	default:
		return msg, true
	}
}
