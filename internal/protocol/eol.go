package protocol

import (
	"fmt"
	"strings"
)

// EndOfLine is a line-termination sequence accepted by the plotter UI.
// The JSON form is the raw sequence.
type EndOfLine string

const (
	NoLineEnding          EndOfLine = ""
	NewLine               EndOfLine = "\n"
	CarriageReturn        EndOfLine = "\r"
	CarriageReturnNewLine EndOfLine = "\r\n"
)

// AllEOL lists every valid EndOfLine.
var AllEOL = []EndOfLine{NoLineEnding, NewLine, CarriageReturn, CarriageReturnNewLine}

// Valid reports whether e is one of the known sequences.
func (e EndOfLine) Valid() bool {
	switch e {
	case NoLineEnding, NewLine, CarriageReturn, CarriageReturnNewLine:
		return true
	default:
		return false
	}
}

// Sequence returns the raw bytes appended to a line.
func (e EndOfLine) Sequence() string {
	return string(e)
}

// String returns a printable name (none, lf, cr, crlf).
func (e EndOfLine) String() string {
	switch e {
	case NoLineEnding:
		return "none"
	case NewLine:
		return "lf"
	case CarriageReturn:
		return "cr"
	case CarriageReturnNewLine:
		return "crlf"
	default:
		return fmt.Sprintf("invalid(%q)", string(e))
	}
}

// ParseEndOfLine accepts a raw sequence, an escaped sequence, or a
// printable name (none, lf, cr, crlf).
func ParseEndOfLine(raw string) (EndOfLine, error) {
	if eol := EndOfLine(raw); eol.Valid() {
		return eol, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "no_line_ending":
		return NoLineEnding, nil
	case "lf", "nl", "newline", "new_line", `\n`:
		return NewLine, nil
	case "cr", "carriage_return", `\r`:
		return CarriageReturn, nil
	case "crlf", "carriage_return_new_line", `\r\n`:
		return CarriageReturnNewLine, nil
	}
	return NoLineEnding, fmt.Errorf("%w: %q", ErrInvalidEOL, raw)
}

// ContainsEOL reports whether s contains any non-empty line ending.
func ContainsEOL(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// splitEOL separates a trailing line ending from line.
func splitEOL(line string) (string, EndOfLine) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], CarriageReturnNewLine
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], NewLine
	case strings.HasSuffix(line, "\r"):
		return line[:len(line)-1], CarriageReturn
	default:
		return line, NoLineEnding
	}
}
