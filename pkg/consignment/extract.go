package consignment

import (
	"fmt"
	"sort"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/contract"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// ErrUnknownTerminal is returned by Extract when a requested terminal
// auth token does not address any output this contract knows about.
var ErrUnknownTerminal = fmt.Errorf("consignment: terminal auth token not found in contract")

// Extract builds a Consignment conveying the ancestor closure of the
// operations that produced the given terminal auth tokens (spec.md
// §4.F): operations in topological order with genesis first, each
// carrying only the seal definitions a later included operation spends
// or that match a terminal token, and a witness only for operations
// whose outputs are spent within the closure.
func Extract(c *contract.Contract, terminals []codec.AuthToken) (Consignment, error) {
	contractId, err := c.ContractId()
	if err != nil {
		return Consignment{}, err
	}
	articles := c.Articles()

	ops, err := c.Operations()
	if err != nil {
		return Consignment{}, err
	}
	byOpid := make(map[codec.Opid]opgraph.Operation, len(ops))
	tokenOwner := make(map[codec.AuthToken]codec.Opid)
	for _, op := range ops {
		opid, err := op.Opid()
		if err != nil {
			return Consignment{}, err
		}
		byOpid[opid] = op
		for _, out := range op.Outputs {
			tokenOwner[out.Auth] = opid
		}
	}

	genesisOpid, err := articles.Genesis.Opid()
	if err != nil {
		return Consignment{}, err
	}

	seed := make(map[codec.Opid]bool)
	for _, tok := range terminals {
		opid, ok := tokenOwner[tok]
		if !ok {
			return Consignment{}, fmt.Errorf("%w: %s", ErrUnknownTerminal, tok)
		}
		seed[opid] = true
	}
	seed[genesisOpid] = true

	closure := ancestorClosure(byOpid, seed)
	ordered := topoSort(byOpid, closure, genesisOpid)

	terminalSet := make(map[codec.AuthToken]bool, len(terminals))
	for _, t := range terminals {
		terminalSet[t] = true
	}

	consumedByLaterOp := spentOutputs(byOpid, closure)

	cons := Consignment{ContractId: contractId, Articles: articles}
	for _, opid := range ordered {
		op := byOpid[opid]
		allSeals, err := c.OpSeals(opid)
		if err != nil {
			return Consignment{}, fmt.Errorf("consignment: op seals: %w", err)
		}

		included := make(map[uint16]struct{})
		hasDownstreamConsumer := false
		for idx := range allSeals {
			addr := opgraph.CellAddr{Opid: opid, Index: idx}
			if consumedByLaterOp[addr] {
				included[idx] = struct{}{}
				hasDownstreamConsumer = true
				continue
			}
			if int(idx) < len(op.Outputs) && terminalSet[op.Outputs[idx].Auth] {
				included[idx] = struct{}{}
			}
		}

		if opid == genesisOpid {
			cons.GenesisSeals = selectSeals(allSeals, included)
			continue
		}

		var sw *witness.SealWitness
		if hasDownstreamConsumer {
			best, ok, err := c.BestWitness(opid)
			if err != nil {
				return Consignment{}, fmt.Errorf("consignment: best witness: %w", err)
			}
			if ok {
				sw = &best
			}
		}

		cons.Frames = append(cons.Frames, OperationFrame{
			Operation: op,
			Seals:     selectSeals(allSeals, included),
			Witness:   sw,
		})
	}
	return cons, nil
}

func selectSeals(all map[uint16]seal.Def, keep map[uint16]struct{}) map[uint16]seal.Def {
	out := make(map[uint16]seal.Def, len(keep))
	for idx := range keep {
		out[idx] = all[idx]
	}
	return out
}

// ancestorClosure expands seed opids to include every operation any
// seed (transitively) depends on via Inputs or Reads.
func ancestorClosure(byOpid map[codec.Opid]opgraph.Operation, seed map[codec.Opid]bool) map[codec.Opid]bool {
	closure := make(map[codec.Opid]bool, len(seed))
	queue := make([]codec.Opid, 0, len(seed))
	for opid := range seed {
		closure[opid] = true
		queue = append(queue, opid)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		op, ok := byOpid[cur]
		if !ok {
			continue
		}
		for _, dep := range dependencies(op) {
			if closure[dep] {
				continue
			}
			closure[dep] = true
			queue = append(queue, dep)
		}
	}
	return closure
}

func dependencies(op opgraph.Operation) []codec.Opid {
	var deps []codec.Opid
	for _, in := range op.Inputs {
		deps = append(deps, in.Addr.Opid)
	}
	for _, r := range op.Reads {
		deps = append(deps, r.Opid)
	}
	return deps
}

// spentOutputs marks every CellAddr consumed as an Input by some
// operation within closure.
func spentOutputs(byOpid map[codec.Opid]opgraph.Operation, closure map[codec.Opid]bool) map[opgraph.CellAddr]bool {
	spent := make(map[opgraph.CellAddr]bool)
	for opid := range closure {
		op, ok := byOpid[opid]
		if !ok {
			continue
		}
		for _, in := range op.Inputs {
			spent[in.Addr] = true
		}
	}
	return spent
}

// topoSort orders closure by dependency (Kahn's algorithm over
// Inputs/Reads edges), with genesis forced first since it has no
// dependencies by construction.
func topoSort(byOpid map[codec.Opid]opgraph.Operation, closure map[codec.Opid]bool, genesisOpid codec.Opid) []codec.Opid {
	indegree := make(map[codec.Opid]int, len(closure))
	dependents := make(map[codec.Opid][]codec.Opid)
	for opid := range closure {
		indegree[opid] = 0
	}
	for opid := range closure {
		op, ok := byOpid[opid]
		if !ok {
			continue
		}
		for _, dep := range dependencies(op) {
			if !closure[dep] {
				continue
			}
			indegree[opid]++
			dependents[dep] = append(dependents[dep], opid)
		}
	}

	var ready []codec.Opid
	for opid, deg := range indegree {
		if deg == 0 {
			ready = append(ready, opid)
		}
	}
	sortOpids(ready, genesisOpid)

	var out []codec.Opid
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		out = append(out, cur)
		var freed []codec.Opid
		for _, next := range dependents[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				freed = append(freed, next)
			}
		}
		sortOpids(freed, genesisOpid)
		ready = append(ready, freed...)
		sortOpids(ready, genesisOpid)
	}
	return out
}

// sortOpids gives a deterministic order among equally-ready nodes:
// genesis first, then ascending byte order.
func sortOpids(opids []codec.Opid, genesisOpid codec.Opid) {
	sort.Slice(opids, func(i, j int) bool { return lessOpid(opids[i], opids[j], genesisOpid) })
}

func lessOpid(a, b, genesisOpid codec.Opid) bool {
	if a == genesisOpid {
		return b != genesisOpid
	}
	if b == genesisOpid {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
