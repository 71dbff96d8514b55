package consignment

import (
	"fmt"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/contract"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
)

// Merge consumes cons into an already-constructed target contract
// (spec.md §4.F): the caller is responsible for the "new contract vs.
// extension" decision (Mound's job, since only Mound can allocate a
// fresh Pile) and for constructing target with matching Articles before
// calling Merge. For each frame, Merge performs merge-reveal against any
// existing operation of the same opid, then resolves whichever seals
// are still unknown: resolver.Resolve is called exactly once with the
// union of auth tokens encountered. Only unresolved *terminal* tokens —
// outputs no frame in this consignment spends — are fatal
// (ErrUnresolvableSeals); an unresolved non-terminal token legitimately
// means "not mine" (seal.Resolver's documented convention) and is left
// for a future consignment to resolve.
func Merge(target *contract.Contract, cons Consignment, resolver seal.Resolver) error {
	contractId, err := target.ContractId()
	if err != nil {
		return err
	}
	if contractId != cons.ContractId {
		return fmt.Errorf("%w: target %s, consignment %s", ErrUnknownContract, contractId, cons.ContractId)
	}

	genesisOpid, err := cons.Articles.Genesis.Opid()
	if err != nil {
		return err
	}
	if len(cons.GenesisSeals) > 0 {
		if err := target.AddSeals(genesisOpid, cons.GenesisSeals); err != nil {
			return fmt.Errorf("consignment: install genesis seals: %w", err)
		}
	}

	consumed := make(map[opgraph.CellAddr]bool)
	for _, frame := range cons.Frames {
		for _, in := range frame.Operation.Inputs {
			consumed[in.Addr] = true
		}
	}

	type pendingSeal struct {
		opid     codec.Opid
		idx      uint16
		terminal bool
	}
	unresolved := make(map[codec.AuthToken]pendingSeal)

	for _, frame := range cons.Frames {
		opid, err := frame.Operation.Opid()
		if err != nil {
			return fmt.Errorf("consignment: frame opid: %w", err)
		}
		if _, err := target.MergeOperation(opid, frame.Operation); err != nil {
			return fmt.Errorf("consignment: merge operation %s: %w", opid, err)
		}

		if len(frame.Seals) > 0 {
			if err := target.AddSeals(opid, frame.Seals); err != nil {
				return fmt.Errorf("consignment: install frame seals: %w", err)
			}
		}
		if frame.Witness != nil {
			if err := target.ApplyWitness(opid, *frame.Witness); err != nil {
				return fmt.Errorf("consignment: apply frame witness: %w", err)
			}
		}

		existingSeals, err := target.OpSeals(opid)
		if err != nil {
			return fmt.Errorf("consignment: read seals for %s: %w", opid, err)
		}
		for idx, out := range frame.Operation.Outputs {
			if _, resolved := existingSeals[uint16(idx)]; resolved {
				continue
			}
			addr := opgraph.CellAddr{Opid: opid, Index: uint16(idx)}
			unresolved[out.Auth] = pendingSeal{opid: opid, idx: uint16(idx), terminal: !consumed[addr]}
		}
	}

	if len(unresolved) == 0 {
		return nil
	}

	tokens := make([]codec.AuthToken, 0, len(unresolved))
	for tok := range unresolved {
		tokens = append(tokens, tok)
	}
	resolved, err := resolver.Resolve(tokens)
	if err != nil {
		return fmt.Errorf("consignment: resolve seals: %w", err)
	}

	byOpid := make(map[codec.Opid]map[uint16]seal.Def)
	var missingTerminals int
	for tok, pending := range unresolved {
		def, ok := resolved[tok]
		if !ok {
			if pending.terminal {
				missingTerminals++
			}
			continue
		}
		if byOpid[pending.opid] == nil {
			byOpid[pending.opid] = make(map[uint16]seal.Def)
		}
		byOpid[pending.opid][pending.idx] = def
	}
	for opid, seals := range byOpid {
		if err := target.AddSeals(opid, seals); err != nil {
			return fmt.Errorf("consignment: install resolved seals: %w", err)
		}
	}
	if missingTerminals > 0 {
		return fmt.Errorf("%w: %d terminal token(s) unresolved", ErrUnresolvableSeals, missingTerminals)
	}
	return nil
}
