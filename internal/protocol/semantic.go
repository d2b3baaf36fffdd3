package protocol

import (
	"fmt"
	"unicode/utf8"
)

// Validate checks that msg is encodable and will decode back to itself.
func Validate(msg Message) error {
	m, ok := deref(msg)
	if !ok {
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	switch m := m.(type) {
	case Settings:
		return validateSettings(m.MonitorSettings)
	case ChangeSettings:
		if m.IsLineEndingOnly() {
			return fmt.Errorf("%w: line ending only change must be an EolChange", ErrMalformedMessage)
		}
		return validateSettings(m.MonitorSettings)
	case EolChange:
		if !m.Sequence.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrMalformedMessage, ErrInvalidEOL, string(m.Sequence))
		}
		return nil
	case Data:
		return validateData(m)
	case SendMessage:
		return validText("text", m.Text)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownVariant, msg)
	}
}

func validateData(d Data) error {
	if len(d.Entries) == 0 {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, ErrEmptyData)
	}
	if !d.EOL.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrMalformedMessage, ErrInvalidEOL, string(d.EOL))
	}
	for i, e := range d.Entries {
		if err := ValidateLabel(e.Label); err != nil {
			return fmt.Errorf("%w: entry[%d]: %w", ErrMalformedMessage, i, err)
		}
		if !isFinite(e.Value) {
			return fmt.Errorf("%w: entry[%d]: %w: %v", ErrMalformedMessage, i, ErrInvalidValue, e.Value)
		}
	}
	return nil
}

func validateSettings(s MonitorSettings) error {
	if eol, ok := s.LineEnding(); ok && !eol.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrMalformedMessage, ErrInvalidEOL, string(eol))
	}
	if ui := s.MonitorUISettings; ui != nil && ui.SerialPort != nil {
		if err := validText("serialPort", *ui.SerialPort); err != nil {
			return err
		}
	}
	for id, setting := range s.PluggableMonitorSettings {
		if setting.Type != nil && *setting.Type != LabelTypeEnum {
			return fmt.Errorf("%w: pluggable setting %q has type %q", ErrMalformedMessage, id, *setting.Type)
		}
		if err := validPluggable(id, setting); err != nil {
			return err
		}
	}
	return nil
}

func validPluggable(id string, p PluggableMonitorSetting) error {
	texts := []string{id, p.SelectedValue}
	if p.ID != nil {
		texts = append(texts, *p.ID)
	}
	if p.Label != nil {
		texts = append(texts, *p.Label)
	}
	texts = append(texts, p.Values...)
	for _, text := range texts {
		if err := validText(fmt.Sprintf("pluggable setting %q", id), text); err != nil {
			return err
		}
	}
	return nil
}

// validText rejects strings the JSON encoder would rewrite.
func validText(field, text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedMessage, field)
	}
	return nil
}
