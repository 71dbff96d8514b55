// Package contract implements the per-contract runtime of spec.md §4.E:
// one Articles plus one Pile, exposing call/apply_witness/rollback/
// forward/state and the read-only export iterators. Grounded on
// pkg/ledger/store.go's single-writer-mutex concurrency documentation
// (the teacher's LedgerStore assumes a single committing goroutine; we
// make the same assumption explicit but enforce it with a real mutex
// since, unlike the teacher's BFT commit thread, nothing here guarantees
// single-threaded callers) and on original_source/persistence/fs/src/
// stockpile.rs's separation of "Stock" (the operation graph) from "Pile"
// (seal/witness bookkeeping) — the pile's six maps hold no operation
// bodies, so Contract keeps its own operation store alongside the Pile.
package contract

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/pile"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
	"github.com/RGB-WG/rgb-std-sub001/pkg/vm"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// ErrUnknownOperation is the UnknownReference error kind of spec.md §5
// raised by rollback/forward/op_seals for an opid this contract has
// never seen.
var ErrUnknownOperation = errors.New("contract: unknown operation")

// ErrSerialize signals that persisting a rollback's closure failed; the
// in-memory state is left unchanged so the caller may retry.
var ErrSerialize = errors.New("contract: failed to persist rollback closure")

// ErrStateConflict is returned by Call when a proposed operation names
// an input cell already consumed by another operation this contract
// has accepted and not rolled back (spec.md §8, "double-spend
// rejection"). Call performs this check before any pile or graph
// mutation, so a rejected call leaves both byte-identical to their
// pre-call state.
var ErrStateConflict = errors.New("contract: input already spent")

// CallParams describes a proposed operation before it is assigned an
// opid. The schema/codex interpret Inputs/Outputs/Global; the runtime
// only threads them through to the VM and, on acceptance, into the
// operation graph.
type CallParams struct {
	Method  string
	Inputs  []opgraph.CellAddr
	Outputs []opgraph.DataCell
	Global  []opgraph.GlobalEntry
	Reads   []opgraph.CellAddr
}

// SealWitness binds an operation's closing witness: the published
// on-chain transaction copy plus the client-side commitment proof, and
// the witness id it is filed under in the pile. Alias of witness.SealWitness
// so the consignment codec can build one without importing this package.
type SealWitness = witness.SealWitness

// ContractState is the live projection folded from every accepted
// operation (spec.md §4.E): append-only Immutable state bucketed by
// name, and Owned state addressed by the cell that carries it. Aux
// holds any global entries the schema chose not to bucket by name — the
// core stores them opaquely.
type ContractState struct {
	Immutable map[string][][]byte
	Owned     map[string]map[opgraph.CellAddr][]byte
	Aux       [][]byte
}

func newContractState() *ContractState {
	return &ContractState{
		Immutable: make(map[string][][]byte),
		Owned:     make(map[string]map[opgraph.CellAddr][]byte),
	}
}

// Contract owns one Articles and one Pile (spec.md §4.E). It is safe
// for concurrent use: mutating calls serialize on mu; State returns a
// deep-enough snapshot that callers never observe a partially folded
// projection.
type Contract struct {
	mu sync.Mutex

	articles  opgraph.Articles
	pile      *pile.Pile
	validator vm.Validator
	threshold witness.StatusKind
	observer  Observer

	operations map[codec.Opid]opgraph.Operation
	rolledBack map[codec.Opid]bool

	stateCache *ContractState
	dirty      bool

	witnessObserver WitnessObserver
}

// Observer receives Call events for instrumentation, e.g. pkg/metrics.
type Observer interface {
	RecordOperation(method string)
}

type noopObserver struct{}

func (noopObserver) RecordOperation(string) {}

// WitnessObserver is an optional extension an Observer may also
// implement to mirror witness status changes into a secondary index,
// e.g. pkg/pile/pgindex. WithObserver installs it automatically when the
// value passed also satisfies this interface, the same way pkg/mound's
// WithObserver detects pile.Observer/contract.Observer on one object.
type WitnessObserver interface {
	RecordWitnessStatus(contractId codec.ContractId, wid codec.WitnessId, status witness.Status)
}

// Option configures a Contract at construction.
type Option func(*Contract)

// WithThreshold sets the minimum witness status an operation's witness
// must reach before the operation is folded into State(). Defaults to
// witness.Mined.
func WithThreshold(kind witness.StatusKind) Option {
	return func(c *Contract) { c.threshold = kind }
}

// WithValidator overrides the default vm.AlwaysValid validator.
func WithValidator(v vm.Validator) Option {
	return func(c *Contract) { c.validator = v }
}

// WithObserver installs a metrics/logging observer invoked on every
// accepted Call. See pkg/metrics.Metrics. If o also implements
// WitnessObserver, it is additionally notified on every witness status
// update (see pkg/pile/pgindex.WitnessObserverAdapter).
func WithObserver(o Observer) Option {
	return func(c *Contract) {
		c.observer = o
		if wo, ok := o.(WitnessObserver); ok {
			c.witnessObserver = wo
		}
	}
}

// New constructs a Contract over an already-issued Articles and an
// opened Pile, installing the genesis into the operation graph.
func New(articles opgraph.Articles, p *pile.Pile, opts ...Option) (*Contract, error) {
	c := &Contract{
		articles:   articles,
		pile:       p,
		validator:  vm.AlwaysValid{},
		threshold:  witness.Mined,
		observer:   noopObserver{},
		operations: make(map[codec.Opid]opgraph.Operation),
		rolledBack: make(map[codec.Opid]bool),
		dirty:      true,
	}
	for _, opt := range opts {
		opt(c)
	}
	opid, err := articles.Genesis.Opid()
	if err != nil {
		return nil, fmt.Errorf("contract: genesis opid: %w", err)
	}
	c.operations[opid] = articles.Genesis.Operation
	return c, nil
}

// ContractId returns the contract's identity.
func (c *Contract) ContractId() (codec.ContractId, error) {
	return c.articles.ContractId()
}

// Call builds an Operation from params, validates it against the
// schema/codex, and on success writes the operation and its new seal
// definitions into the graph and pile. It never emits a witness; the
// caller binds one separately via ApplyWitness (spec.md §4.E).
func (c *Contract) Call(params CallParams, newSeals map[uint16]seal.Def) (opgraph.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	contractId, err := c.articles.ContractId()
	if err != nil {
		return opgraph.Operation{}, fmt.Errorf("contract: contract id: %w", err)
	}
	inputs := make([]opgraph.Input, len(params.Inputs))
	for i, addr := range params.Inputs {
		inputs[i] = opgraph.Input{Addr: addr}
	}
	outputs := make([]opgraph.DataCell, len(params.Outputs))
	for i, out := range params.Outputs {
		outputs[i] = out
		if outputs[i].Commitment == ([32]byte{}) {
			outputs[i].Commitment = codec.TaggedHash(codec.TagState, out.Data)
		}
	}
	op := opgraph.Operation{
		ContractId: contractId,
		Method:     params.Method,
		Inputs:     inputs,
		Outputs:    outputs,
		Global:     params.Global,
		Reads:      params.Reads,
	}

	if conflict := c.spentInputLocked(op); conflict != nil {
		return opgraph.Operation{}, fmt.Errorf("%w: %s", ErrStateConflict, *conflict)
	}

	if err := c.validator.ValidateOperation(c.articles.Schema, c.articles.Codex, op); err != nil {
		return opgraph.Operation{}, &vm.AcceptError{Method: params.Method, Err: err}
	}

	opid, err := op.Opid()
	if err != nil {
		return opgraph.Operation{}, fmt.Errorf("contract: opid: %w", err)
	}

	if len(newSeals) > 0 {
		if err := c.pile.AddSeals(opid, newSeals); err != nil {
			return opgraph.Operation{}, fmt.Errorf("contract: add seals: %w", err)
		}
	}
	c.operations[opid] = op
	c.dirty = true
	c.observer.RecordOperation(params.Method)
	return op, nil
}

// ApplyWitness binds an operation's closing witness, updating the
// pile's hoard/cache/index/stand entries. Before anything is written it
// recomputes the client-side commitment proof and, for any of opid's
// still-unresolved vout-no-fallback seals, promotes them to the now-known
// funding outpoint (spec.md §3, §4.E).
func (c *Contract) ApplyWitness(opid codec.Opid, sw SealWitness) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.operations[opid]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, opid)
	}
	if err := sw.Cli.Verify(); err != nil {
		return fmt.Errorf("contract: apply witness: %w", err)
	}
	if err := c.resolveVoutSealsLocked(opid, sw.Id); err != nil {
		return fmt.Errorf("contract: apply witness: %w", err)
	}
	if err := c.pile.AddWitness(opid, sw.Id, sw.Pub, sw.Cli); err != nil {
		return fmt.Errorf("contract: apply witness: %w", err)
	}
	c.dirty = true
	return nil
}

// resolveVoutSealsLocked binds every still-open KindVoutNoFallback seal
// opid owns to txid now that its witness transaction is known, and writes
// the resolved definitions back to the pile's keep map. Seals already
// bound to an outpoint, and plain KindNoFallback seals, are left alone.
func (c *Contract) resolveVoutSealsLocked(opid codec.Opid, txid codec.WitnessId) error {
	seals, err := c.pile.OpSeals(opid)
	if err != nil {
		return fmt.Errorf("read seals: %w", err)
	}
	resolved := make(map[uint16]seal.Def, len(seals))
	for idx, def := range seals {
		if def.Kind != seal.KindVoutNoFallback {
			continue
		}
		r, err := def.Resolve(txid)
		if err != nil {
			return fmt.Errorf("resolve seal %d: %w", idx, err)
		}
		resolved[idx] = r
	}
	if len(resolved) == 0 {
		return nil
	}
	return c.pile.AddSeals(opid, resolved)
}

// UpdateWitnessStatus delegates to the pile (spec.md §4.E). The update
// is only visible to State() after the pile's pending transaction is
// committed (see pile.CommitTransaction), but the cache is invalidated
// eagerly so a subsequent State() call always reflects the latest
// committed pile contents.
func (c *Contract) UpdateWitnessStatus(wid codec.WitnessId, status witness.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pile.UpdateWitnessStatus(wid, status); err != nil {
		return fmt.Errorf("contract: update witness status: %w", err)
	}
	c.dirty = true
	if c.witnessObserver != nil {
		if contractId, err := c.articles.ContractId(); err == nil {
			c.witnessObserver.RecordWitnessStatus(contractId, wid, status)
		}
	}
	return nil
}

// CommitTransaction flushes pending witness-status writes into the
// pile's current generation, then invalidates the cached projection.
func (c *Contract) CommitTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pile.CommitTransaction(); err != nil {
		return err
	}
	c.dirty = true
	return nil
}

// Rollback forcibly detaches opids and their downstream closure — every
// operation that consumes or reads a cell any rolled-back operation
// produced, transitively — from the state projection (spec.md §4.E).
// Rolled-back operations remain in the graph for export/forward but are
// skipped by State().
func (c *Contract) Rollback(opids []codec.Opid) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, opid := range opids {
		if _, ok := c.operations[opid]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOperation, opid)
		}
	}

	closure, err := c.downstreamClosureLocked(opids)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	for opid := range closure {
		c.rolledBack[opid] = true
	}
	c.dirty = true
	return nil
}

// Forward re-attaches previously rolled-back operations after
// re-validating each against the current schema and codex.
func (c *Contract) Forward(opids []codec.Opid) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, opid := range opids {
		op, ok := c.operations[opid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOperation, opid)
		}
		if err := c.validator.ValidateOperation(c.articles.Schema, c.articles.Codex, op); err != nil {
			return &vm.AcceptError{Method: op.Method, Err: err}
		}
	}
	for _, opid := range opids {
		delete(c.rolledBack, opid)
	}
	c.dirty = true
	return nil
}

// downstreamClosureLocked computes the set of opids to roll back: the
// seed set plus every operation, transitively, that consumes or reads a
// cell addressed by an opid already in the set. Callers hold c.mu.
func (c *Contract) downstreamClosureLocked(seed []codec.Opid) (map[codec.Opid]bool, error) {
	closure := make(map[codec.Opid]bool, len(seed))
	queue := append([]codec.Opid(nil), seed...)
	for _, opid := range queue {
		closure[opid] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for opid, op := range c.operations {
			if closure[opid] {
				continue
			}
			if referencesOpid(op, cur) {
				closure[opid] = true
				queue = append(queue, opid)
			}
		}
	}
	return closure, nil
}

// spentInputLocked reports the first of op's inputs already consumed by
// an accepted, non-rolled-back operation this contract holds, or nil if
// none conflict. Callers hold c.mu.
func (c *Contract) spentInputLocked(op opgraph.Operation) *opgraph.CellAddr {
	for _, in := range op.Inputs {
		for opid, existing := range c.operations {
			if c.rolledBack[opid] {
				continue
			}
			for _, existingIn := range existing.Inputs {
				if existingIn.Addr == in.Addr {
					addr := in.Addr
					return &addr
				}
			}
		}
	}
	return nil
}

func referencesOpid(op opgraph.Operation, target codec.Opid) bool {
	for _, in := range op.Inputs {
		if in.Addr.Opid == target {
			return true
		}
	}
	for _, r := range op.Reads {
		if r.Opid == target {
			return true
		}
	}
	return false
}

// State returns the live ContractState projection, recomputing it only
// when a mutation has invalidated the cache (spec.md §4.E).
func (c *Contract) State() (*ContractState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Contract) stateLocked() (*ContractState, error) {
	if !c.dirty && c.stateCache != nil {
		return c.stateCache, nil
	}

	keys, err := c.orderedAcceptedLocked()
	if err != nil {
		return nil, err
	}

	st := c.foldLocked(keys)
	c.stateCache = st
	c.dirty = false
	return st, nil
}

// foldLocked folds the operations named by keys into a ContractState. A
// cell is live only while no accepted operation in keys spends it as an
// input (spec.md §3, "Cell (output)... live while"), so spent addresses
// are collected first and excluded from Owned regardless of which
// operation in keys produced them. Callers hold c.mu.
func (c *Contract) foldLocked(keys []opgraph.OrderKey) *ContractState {
	spent := make(map[opgraph.CellAddr]bool)
	for _, k := range keys {
		for _, in := range c.operations[k.Opid].Inputs {
			spent[in.Addr] = true
		}
	}

	st := newContractState()
	for _, k := range keys {
		op := c.operations[k.Opid]
		for _, g := range op.Global {
			st.Immutable[g.Name] = append(st.Immutable[g.Name], g.Value)
		}
		bucket, ok := st.Owned[op.Method]
		if !ok {
			bucket = make(map[opgraph.CellAddr][]byte)
			st.Owned[op.Method] = bucket
		}
		for i, out := range op.Outputs {
			addr := opgraph.CellAddr{Opid: k.Opid, Index: uint16(i)}
			if spent[addr] {
				continue
			}
			bucket[addr] = out.Data
		}
	}
	return st
}

// orderedAcceptedLocked returns the OrderKey of every operation eligible
// for folding into State(): not rolled back, and — for every
// non-genesis operation — closed by at least one witness at or above
// the confirmation threshold. The genesis always sorts first (zero
// OrderKey) and is always eligible.
func (c *Contract) orderedAcceptedLocked() ([]opgraph.OrderKey, error) {
	genesisOpid, err := c.articles.Genesis.Opid()
	if err != nil {
		return nil, err
	}

	var keys []opgraph.OrderKey
	for opid := range c.operations {
		if c.rolledBack[opid] {
			continue
		}
		if opid == genesisOpid {
			keys = append(keys, opgraph.OrderKey{Opid: opid})
			continue
		}
		ok, orderKey, err := c.closingOrderKeyLocked(opid)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, orderKey)
		}
	}
	opgraph.SortKeys(keys)
	return keys, nil
}

// closingOrderKeyLocked reports whether opid has a witness at or above
// the confirmation threshold and, if so, the OrderKey derived from the
// best (highest-status) such witness.
func (c *Contract) closingOrderKeyLocked(opid codec.Opid) (bool, opgraph.OrderKey, error) {
	wids, err := c.pile.OpWitnesses(opid)
	if err != nil {
		return false, opgraph.OrderKey{}, fmt.Errorf("contract: op witnesses: %w", err)
	}
	var best *opgraph.OrderKey
	for i, wid := range wids {
		status, err := c.pile.WitnessStatus(wid)
		if err != nil {
			return false, opgraph.OrderKey{}, fmt.Errorf("contract: witness status: %w", err)
		}
		if !status.AtOrAbove(c.threshold) {
			continue
		}
		key := opgraph.OrderKey{WitnessHeight: status.Height, WitnessId: wid, Position: uint32(i), Opid: opid}
		if best == nil || best.Less(key) {
			best = &key
		}
	}
	if best == nil {
		return false, opgraph.OrderKey{}, nil
	}
	return true, *best, nil
}

// Witnesses returns every witness id closing any operation this
// contract has ever seen, deduplicated.
func (c *Contract) Witnesses() ([]codec.WitnessId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[codec.WitnessId]bool)
	var out []codec.WitnessId
	for opid := range c.operations {
		wids, err := c.pile.OpWitnesses(opid)
		if err != nil {
			return nil, fmt.Errorf("contract: op witnesses: %w", err)
		}
		for _, wid := range wids {
			if !seen[wid] {
				seen[wid] = true
				out = append(out, wid)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessWitnessId(out[i], out[j]) })
	return out, nil
}

func lessWitnessId(a, b codec.WitnessId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Operations returns every operation in the graph, including rolled
// back ones, sorted by opid for deterministic export.
func (c *Contract) Operations() ([]opgraph.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opids := make([]codec.Opid, 0, len(c.operations))
	for opid := range c.operations {
		opids = append(opids, opid)
	}
	sort.Slice(opids, func(i, j int) bool { return lessWitnessId(codec.WitnessId(opids[i]), codec.WitnessId(opids[j])) })

	out := make([]opgraph.Operation, len(opids))
	for i, opid := range opids {
		out[i] = c.operations[opid]
	}
	return out, nil
}

// OpSeals returns the seal definitions an operation created.
func (c *Contract) OpSeals(opid codec.Opid) (map[uint16]seal.Def, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.operations[opid]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, opid)
	}
	return c.pile.OpSeals(opid)
}

// Generation returns the pile's current committed generation counter, so
// a host polling WitnessesSince across many contracts knows where to
// resume each one next time.
func (c *Contract) Generation() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pile.Generation()
}

// WitnessesSince delegates to the pile's change-id trail: every witness
// id whose committed status changed after generation g (spec.md §4.D).
// Exposed so a multi-contract host (Mound) can fan a single chain-oracle
// poll loop out across every contract's pile without reaching past this
// package.
func (c *Contract) WitnessesSince(g uint64) ([]codec.WitnessId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pile.WitnessesSince(g)
}

// StateAtGeneration reconstructs the projection as it would have looked
// right before the pile's generation boundary g: any witness whose
// status has changed since then is treated as not-yet-confirmed, so the
// operations it alone would close are excluded. This is an
// approximation — the pile keeps only a change-id trail, not a value
// history (spec.md §4.D), so a witness's exact prior status cannot be
// recovered, only whether it changed after g.
func (c *Contract) StateAtGeneration(g uint64) (*ContractState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed, err := c.pile.WitnessesSince(g)
	if err != nil {
		return nil, fmt.Errorf("contract: witnesses since: %w", err)
	}
	changedSet := make(map[codec.WitnessId]bool, len(changed))
	for _, wid := range changed {
		changedSet[wid] = true
	}

	genesisOpid, err := c.articles.Genesis.Opid()
	if err != nil {
		return nil, err
	}

	var keys []opgraph.OrderKey
	for opid := range c.operations {
		if c.rolledBack[opid] {
			continue
		}
		if opid == genesisOpid {
			keys = append(keys, opgraph.OrderKey{Opid: opid})
			continue
		}
		wids, err := c.pile.OpWitnesses(opid)
		if err != nil {
			return nil, fmt.Errorf("contract: op witnesses: %w", err)
		}
		var best *opgraph.OrderKey
		for i, wid := range wids {
			if changedSet[wid] {
				continue
			}
			status, err := c.pile.WitnessStatus(wid)
			if err != nil {
				return nil, fmt.Errorf("contract: witness status: %w", err)
			}
			if !status.AtOrAbove(c.threshold) {
				continue
			}
			key := opgraph.OrderKey{WitnessHeight: status.Height, WitnessId: wid, Position: uint32(i), Opid: opid}
			if best == nil || best.Less(key) {
				best = &key
			}
		}
		if best != nil {
			keys = append(keys, *best)
		}
	}
	opgraph.SortKeys(keys)
	return c.foldLocked(keys), nil
}
