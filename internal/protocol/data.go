package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	entrySeparator = ","
	labelSeparator = ":"
)

// ValidateLabel checks that label can be framed in a data line.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidLabel)
	}
	if !utf8.ValidString(label) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidLabel, label)
	}
	if strings.ContainsAny(label, ":, \t\r\n") {
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidLabel, label)
	}
	return nil
}

// Line renders d as the text line the UI splits on its EOL:
// "label:value,label:value<EOL>".
func (d Data) Line() string {
	var b strings.Builder
	for i, e := range d.Entries {
		if i > 0 {
			b.WriteString(entrySeparator)
		}
		b.WriteString(e.Label)
		b.WriteString(labelSeparator)
		b.WriteString(formatValue(e.Value))
	}
	b.WriteString(d.EOL.Sequence())
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseLine parses one data line. The trailing line ending, if any, is
// reported as the EOL of the returned Data.
func ParseLine(line string) (Data, error) {
	body, eol := splitEOL(line)
	if ContainsEOL(body) {
		return Data{}, fmt.Errorf("%w: embedded line ending in %q", ErrMalformedMessage, line)
	}
	tokens := strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := Data{Entries: make([]Entry, 0, len(tokens)), EOL: eol}
	for _, token := range tokens {
		label, raw, ok := strings.Cut(token, labelSeparator)
		if !ok {
			return Data{}, fmt.Errorf("%w: entry %q missing label", ErrMalformedMessage, token)
		}
		if err := ValidateLabel(label); err != nil {
			return Data{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !isFinite(value) {
			return Data{}, fmt.Errorf("%w: %w: %q", ErrMalformedMessage, ErrInvalidValue, raw)
		}
		out.Entries = append(out.Entries, Entry{Label: label, Value: value})
	}
	return out, nil
}

// parseLines merges several data lines into one tick. The first line
// decides the EOL.
func parseLines(lines []string) (Data, error) {
	if len(lines) == 0 {
		return Data{}, fmt.Errorf("%w: %w", ErrMalformedMessage, ErrEmptyData)
	}
	var out Data
	for i, line := range lines {
		d, err := ParseLine(line)
		if err != nil {
			return Data{}, err
		}
		if i == 0 {
			out.EOL = d.EOL
		}
		out.Entries = append(out.Entries, d.Entries...)
	}
	if len(out.Entries) == 0 {
		return Data{}, fmt.Errorf("%w: %w", ErrMalformedMessage, ErrEmptyData)
	}
	return out, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
