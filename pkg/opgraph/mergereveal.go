package opgraph

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrOperationMismatch is returned when two revealed halves of the same
// assignment disagree; per spec.md §4.F this indicates a peer bug or an
// attack, never a legitimate state of the graph.
var ErrOperationMismatch = errors.New("opgraph: operation mismatch on merge-reveal")

// Reveal classifies how much of a single assigned cell is known to this
// party, per spec.md §4.F's four-state lattice.
type Reveal uint8

const (
	// Revealed means both the seal and the state half are known.
	Revealed Reveal = iota
	// ConfSeal means the seal half is confidential but the state half is
	// known.
	ConfSeal
	// ConfState means the seal half is known but the state half is
	// confidential.
	ConfState
	// Confidential means neither half is known — only their commitments.
	Confidential
)

func (r Reveal) String() string {
	switch r {
	case Revealed:
		return "revealed"
	case ConfSeal:
		return "conf-seal"
	case ConfState:
		return "conf-state"
	case Confidential:
		return "confidential"
	default:
		return fmt.Sprintf("reveal(%d)", uint8(r))
	}
}

// Half is one side (seal or state) of an assigned cell: either the
// revealed value, or a confidentiality commitment standing in for it.
type Half struct {
	Known bool
	Value []byte
}

func revealedHalf(v []byte) Half  { return Half{Known: true, Value: v} }
func confidentialHalf(commitment []byte) Half {
	return Half{Known: false, Value: commitment}
}

// Assignment is one assigned cell as known to a party: a seal half and a
// state half, each independently revealed or confidential.
type Assignment struct {
	Seal  Half
	State Half
}

// RevealState reports which of the four lattice states this assignment
// occupies.
func (a Assignment) RevealState() Reveal {
	switch {
	case a.Seal.Known && a.State.Known:
		return Revealed
	case !a.Seal.Known && a.State.Known:
		return ConfSeal
	case a.Seal.Known && !a.State.Known:
		return ConfState
	default:
		return Confidential
	}
}

func (a Assignment) equalRevealed(b Assignment) bool {
	return bytes.Equal(a.Seal.Value, b.Seal.Value) && bytes.Equal(a.State.Value, b.State.Value)
}

// combine produces the fully revealed assignment from a ConfSeal half and
// a ConfState half: the revealed seal comes from whichever side has it,
// likewise for state.
func combine(confSeal, confState Assignment) Assignment {
	seal := confSeal.Seal
	if !seal.Known {
		seal = confState.Seal
	}
	state := confState.State
	if !state.Known {
		state = confSeal.State
	}
	return Assignment{Seal: seal, State: state}
}

// Merge applies spec.md §4.F's merge-reveal precedence table to combine
// this party's knowledge of an assignment ("self") with a peer's ("other")
// for the same cell. It satisfies the merge-reveal laws of spec.md §8:
// idempotent, commutative, associative, and dominated by Revealed.
func Merge(self, other Assignment) (Assignment, error) {
	sr, or := self.RevealState(), other.RevealState()

	switch sr {
	case Revealed:
		if or == Revealed && !self.equalRevealed(other) {
			return Assignment{}, fmt.Errorf("%w: two revealed forms of the same cell disagree", ErrOperationMismatch)
		}
		return self, nil
	case Confidential:
		switch or {
		case Confidential:
			return self, nil
		default:
			return other, nil
		}
	case ConfSeal:
		switch or {
		case Revealed:
			return other, nil
		case ConfSeal:
			return self, nil
		case ConfState:
			return combine(self, other), nil
		case Confidential:
			return self, nil
		}
	case ConfState:
		switch or {
		case Revealed:
			return other, nil
		case ConfSeal:
			return combine(other, self), nil
		case ConfState:
			return self, nil
		case Confidential:
			return self, nil
		}
	}
	return Assignment{}, fmt.Errorf("%w: unreachable reveal states %v/%v", ErrOperationMismatch, sr, or)
}
