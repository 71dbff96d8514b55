package witness

import "fmt"

// StatusKind enumerates the phases of the witness-status lattice (spec.md
// §3, §4.D): Archived < Offchain < Tentative(height) < Mined(height) <
// Buried(height).
type StatusKind uint8

const (
	// Archived means the witness was superseded by a reorg and is no
	// longer part of the canonical chain candidate.
	Archived StatusKind = iota
	// Offchain means the witness has not yet been broadcast, or has been
	// broadcast but is not in any observed block.
	Offchain
	// Tentative means the witness is mined at Height but below the
	// reorg-safety threshold.
	Tentative
	// Mined means the witness is mined at Height and observed stable for
	// at least one additional block, short of full burial depth.
	Mined
	// Buried means the witness has crossed the reorg-safety threshold at
	// Height and is considered final.
	Buried
)

func (k StatusKind) String() string {
	switch k {
	case Archived:
		return "archived"
	case Offchain:
		return "offchain"
	case Tentative:
		return "tentative"
	case Mined:
		return "mined"
	case Buried:
		return "buried"
	default:
		return fmt.Sprintf("status(%d)", uint8(k))
	}
}

// Status is a single point in the witness-status lattice. Height is
// meaningful only for Tentative, Mined, and Buried.
type Status struct {
	Kind   StatusKind
	Height uint64
}

// ArchivedStatus, OffchainStatus are the two height-less statuses.
var (
	ArchivedStatus = Status{Kind: Archived}
	OffchainStatus = Status{Kind: Offchain}
)

// TentativeStatus, MinedStatus, BuriedStatus build a height-carrying status.
func TentativeStatus(height uint64) Status { return Status{Kind: Tentative, Height: height} }
func MinedStatus(height uint64) Status     { return Status{Kind: Mined, Height: height} }
func BuriedStatus(height uint64) Status    { return Status{Kind: Buried, Height: height} }

// Less orders statuses by lattice rank, then by height for statuses of the
// same rank — the lattice is "mostly" monotone because a reorg can legally
// move a witness back down to Archived from any rank (spec.md §3).
func (s Status) Less(other Status) bool {
	if s.Kind != other.Kind {
		return s.Kind < other.Kind
	}
	return s.Height < other.Height
}

// AtOrAbove reports whether s meets or exceeds a confirmation threshold
// expressed as a minimum StatusKind (e.g. contract runtime state
// projections fold in only operations whose witness is AtOrAbove(Mined)).
func (s Status) AtOrAbove(threshold StatusKind) bool {
	return s.Kind >= threshold
}
