package contract

import (
	"errors"
	"fmt"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
)

// Articles exposes the contract's immutable descriptor, needed by the
// consignment codec to write the header and by Mound to check identity
// on an extending consume.
func (c *Contract) Articles() opgraph.Articles {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.articles
}

// Operation returns a previously accepted operation by opid.
func (c *Contract) Operation(opid codec.Opid) (opgraph.Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.operations[opid]
	return op, ok
}

// AddSeals installs resolved seal definitions for opid directly into the
// pile, bypassing Call — used by the consignment consume algorithm after
// the seal resolver has run (spec.md §4.F).
func (c *Contract) AddSeals(opid codec.Opid, seals map[uint16]seal.Def) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pile.AddSeals(opid, seals); err != nil {
		return fmt.Errorf("contract: add seals: %w", err)
	}
	c.dirty = true
	return nil
}

// ErrCommitmentMismatch is returned by MergeOperation when two deliveries
// claiming the same opid disagree on an output's state commitment — a
// reveal-invariant opid is only trustworthy if this never fires, so
// tolerating it would hide a hash collision or a malformed consignment.
var ErrCommitmentMismatch = errors.New("contract: merge operation: output commitment mismatch")

// MergeOperation installs an operation encountered while consuming a
// consignment. If opid is new, the operation is validated and stored
// outright. If opid already exists, the two operations are merged
// output-by-output using the merge-reveal lattice (opgraph.Merge): a
// DataCell's Data is treated as the "state" half (known iff non-nil) and
// the corresponding pile seal entry as the "seal" half (known iff a
// concrete seal.Def is already on file for that index). Since Opid is
// computed over each output's Commitment rather than its Data (see
// opgraph.Operation.Opid), two deliveries landing on the same opid key
// are expected to carry matching commitments per output; this is
// verified explicitly, mirroring the commitment_id equality precondition
// original_source's merge_reveal.rs enforces before merging. The merged
// operation is what Mound.Consume validates and stores.
func (c *Contract) MergeOperation(opid codec.Opid, incoming opgraph.Operation) (opgraph.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.operations[opid]
	if !ok {
		if err := c.validator.ValidateOperation(c.articles.Schema, c.articles.Codex, incoming); err != nil {
			return opgraph.Operation{}, fmt.Errorf("contract: validate incoming operation: %w", err)
		}
		c.operations[opid] = incoming
		c.dirty = true
		return incoming, nil
	}

	existingSeals, err := c.pile.OpSeals(opid)
	if err != nil {
		return opgraph.Operation{}, fmt.Errorf("contract: read existing seals: %w", err)
	}

	merged := existing
	n := len(existing.Outputs)
	if len(incoming.Outputs) > n {
		n = len(incoming.Outputs)
		merged.Outputs = append(merged.Outputs, incoming.Outputs[len(existing.Outputs):]...)
	}
	for i := 0; i < n && i < len(merged.Outputs); i++ {
		var selfOut, otherOut opgraph.DataCell
		if i < len(existing.Outputs) {
			selfOut = existing.Outputs[i]
		} else {
			selfOut = incoming.Outputs[i]
		}
		if i < len(incoming.Outputs) {
			otherOut = incoming.Outputs[i]
		} else {
			otherOut = existing.Outputs[i]
		}
		if i < len(existing.Outputs) && i < len(incoming.Outputs) && selfOut.Commitment != otherOut.Commitment {
			return opgraph.Operation{}, fmt.Errorf("%w: output %d", ErrCommitmentMismatch, i)
		}

		selfAssignment := opgraph.Assignment{
			Seal:  opgraph.Half{Known: hasSeal(existingSeals, uint16(i)), Value: selfOut.Auth[:]},
			State: opgraph.Half{Known: selfOut.Data != nil, Value: selfOut.Data},
		}
		otherAssignment := opgraph.Assignment{
			Seal:  opgraph.Half{Known: hasSeal(existingSeals, uint16(i)), Value: otherOut.Auth[:]},
			State: opgraph.Half{Known: otherOut.Data != nil, Value: otherOut.Data},
		}
		combined, err := opgraph.Merge(selfAssignment, otherAssignment)
		if err != nil {
			return opgraph.Operation{}, fmt.Errorf("contract: merge-reveal output %d: %w", i, err)
		}
		merged.Outputs[i].Data = combined.State.Value
	}

	if err := c.validator.ValidateOperation(c.articles.Schema, c.articles.Codex, merged); err != nil {
		return opgraph.Operation{}, fmt.Errorf("contract: validate merged operation: %w", err)
	}
	c.operations[opid] = merged
	c.dirty = true
	return merged, nil
}

func hasSeal(seals map[uint16]seal.Def, idx uint16) bool {
	_, ok := seals[idx]
	return ok
}

// BestWitness returns the highest-status witness closing opid, if any,
// in the SealWitness shape a consignment frame embeds.
func (c *Contract) BestWitness(opid codec.Opid) (SealWitness, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wids, err := c.pile.OpWitnesses(opid)
	if err != nil {
		return SealWitness{}, false, fmt.Errorf("contract: op witnesses: %w", err)
	}
	if len(wids) == 0 {
		return SealWitness{}, false, nil
	}

	var best *SealWitness
	var bestStatus int = -1
	for _, wid := range wids {
		w, err := c.pile.Witness(wid)
		if err != nil {
			return SealWitness{}, false, fmt.Errorf("contract: witness: %w", err)
		}
		if int(w.Status.Kind) > bestStatus {
			bestStatus = int(w.Status.Kind)
			sw := SealWitness{Id: wid, Pub: w.Published, Cli: w.Client}
			best = &sw
		}
	}
	return *best, true, nil
}
