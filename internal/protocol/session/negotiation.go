package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/serialplot/internal/protocol"
)

// State is the EOL negotiation phase.
type State uint8

const (
	StateUnset State = iota
	StateProposed
	StateAgreed
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateProposed:
		return "proposed"
	case StateAgreed:
		return "agreed"
	default:
		return "unknown"
	}
}

// Step names the transition a call caused, for logs and metrics.
type Step string

const (
	StepNone      Step = "none"
	StepProposed  Step = "proposed"
	StepAdopted   Step = "adopted"
	StepConfirmed Step = "confirmed"
	StepAnnounced Step = "announced"
)

// Negotiation tracks the line ending agreed with one peer.
//
//	Unset -> Proposed(S) -> Agreed(S)
//	Agreed(S) -> Proposed(T) on a local proposal
//	any -> Agreed(S) when this side announces S in Settings
//
// Peer proposals are always accepted and confirmed with a Settings message
// carrying the adopted sequence. Settings never call for an echo, so two
// crossing proposals end after one confirmation each. A side in Proposed(S)
// that hears S back treats it as confirmation.
type Negotiation struct {
	mu    sync.Mutex
	state State
	eol   protocol.EndOfLine
	last  Step
}

func NewNegotiation() *Negotiation {
	return &Negotiation{last: StepNone}
}

// Propose moves to Proposed(eol) and returns the message to send.
func (n *Negotiation) Propose(eol protocol.EndOfLine) (protocol.EolChange, error) {
	if !eol.Valid() {
		return protocol.EolChange{}, fmt.Errorf("%w: %q", protocol.ErrInvalidEOL, string(eol))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateProposed
	n.eol = eol
	n.last = StepProposed
	return protocol.EolChange{Sequence: eol}, nil
}

// Announce records a line ending this side pushed inside Settings. Settings
// are authoritative and never answered, so the sender is Agreed at once.
func (n *Negotiation) Announce(eol protocol.EndOfLine) error {
	if !eol.Valid() {
		return fmt.Errorf("%w: %q", protocol.ErrInvalidEOL, string(eol))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateAgreed
	n.eol = eol
	n.last = StepAnnounced
	return nil
}

// OnPeerMessage applies a peer EolChange. When needEcho is true the caller
// must send echo to the peer before anything else.
func (n *Negotiation) OnPeerMessage(msg protocol.EolChange) (echo protocol.Settings, needEcho bool) {
	if !msg.Sequence.Valid() {
		return protocol.Settings{}, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.peerProposalLocked(msg.Sequence)
	if out.Echo == nil {
		return protocol.Settings{}, false
	}
	return *out.Echo, true
}

// OnPeerSettings applies the line ending carried by peer settings, if any.
// Settings never require an echo. It reports whether the state changed.
func (n *Negotiation) OnPeerSettings(msg protocol.Settings) bool {
	eol, ok := msg.LineEnding()
	if !ok || !eol.Valid() {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peerSettingsLocked(eol).Step != StepNone
}

func (n *Negotiation) peerProposalLocked(eol protocol.EndOfLine) Outcome {
	if n.confirmLocked(eol) {
		return Outcome{Step: StepConfirmed, EOL: eol}
	}
	n.state = StateAgreed
	n.eol = eol
	n.last = StepAdopted
	echo := protocol.NewEOLSettings(eol)
	return Outcome{Step: StepAdopted, EOL: eol, Echo: &echo}
}

func (n *Negotiation) peerSettingsLocked(eol protocol.EndOfLine) Outcome {
	if n.confirmLocked(eol) {
		return Outcome{Step: StepConfirmed, EOL: eol}
	}
	if n.state == StateAgreed && n.eol == eol {
		return Outcome{Step: StepNone}
	}
	n.state = StateAgreed
	n.eol = eol
	n.last = StepAdopted
	return Outcome{Step: StepAdopted, EOL: eol}
}

func (n *Negotiation) confirmLocked(eol protocol.EndOfLine) bool {
	if n.state != StateProposed || n.eol != eol {
		return false
	}
	n.state = StateAgreed
	n.last = StepConfirmed
	return true
}

// Reset returns to Unset, e.g. after a reconnect.
func (n *Negotiation) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateUnset
	n.eol = protocol.NoLineEnding
	n.last = StepNone
}

func (n *Negotiation) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// LastStep returns the transition caused by the most recent call.
func (n *Negotiation) LastStep() Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Current returns the agreed line ending. ok is false unless Agreed.
func (n *Negotiation) Current() (eol protocol.EndOfLine, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.eol, n.state == StateAgreed
}

// Framing returns the EOL outgoing data should use: the agreed or pending
// proposal, else fallback.
func (n *Negotiation) Framing(fallback protocol.EndOfLine) protocol.EndOfLine {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateUnset {
		return fallback
	}
	return n.eol
}

func (n *Negotiation) String() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateUnset {
		return n.state.String()
	}
	return fmt.Sprintf("%s(%s)", n.state, n.eol)
}

// Outcome is the result of Observe.
type Outcome struct {
	Step Step
	EOL  protocol.EndOfLine
	// Echo is set when the caller must send it to the peer immediately.
	Echo *protocol.Settings
}

// Observe applies any line ending carried by an inbound message. A
// ChangeSettings that also changes the line ending is handled like an
// EolChange. The outcome describes the transition this call made.
func (n *Negotiation) Observe(msg protocol.Message) Outcome {
	var (
		eol      protocol.EndOfLine
		settings bool
	)
	switch m := msg.(type) {
	case protocol.EolChange:
		eol = m.Sequence
	case protocol.ChangeSettings:
		v, ok := m.LineEnding()
		if !ok {
			return Outcome{Step: StepNone}
		}
		eol = v
	case protocol.Settings:
		v, ok := m.LineEnding()
		if !ok {
			return Outcome{Step: StepNone}
		}
		eol, settings = v, true
	default:
		return Outcome{Step: StepNone}
	}
	if !eol.Valid() {
		return Outcome{Step: StepNone}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if settings {
		return n.peerSettingsLocked(eol)
	}
	return n.peerProposalLocked(eol)
}
