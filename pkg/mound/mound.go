// Package mound implements the multi-contract registry of spec.md §4.G: a
// collection of contracts sharing a schema/codex registry, issuance, and
// the consign/consume entry points that drive pkg/consignment against
// whichever contract a stream names. Grounded on the teacher's main.go
// service-wiring style and pkg/database/repositories.go's
// registry-of-repositories pattern.
package mound

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/consignment"
	"github.com/RGB-WG/rgb-std-sub001/pkg/contract"
	"github.com/RGB-WG/rgb-std-sub001/pkg/opgraph"
	"github.com/RGB-WG/rgb-std-sub001/pkg/pile"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
	"github.com/RGB-WG/rgb-std-sub001/pkg/vm"
)

// ErrUnknownCodex is returned by Issue when no schema is registered under
// the requested codex id.
var ErrUnknownCodex = errors.New("mound: unknown codex")

// ErrUnknownContract is returned by Consign, and by Consume when the
// inbound consignment names a contract this Mound does not hold and
// whose codex is not a known issuer either.
var ErrUnknownContract = errors.New("mound: unknown contract")

// ErrConsensusMismatch is returned by Issue when the genesis's consensus
// tag does not match the Mound's configured network.
var ErrConsensusMismatch = errors.New("mound: consensus layer mismatch")

// ErrTestnetMismatch is returned by Issue when the genesis's testnet flag
// does not match the Mound's configured network.
var ErrTestnetMismatch = errors.New("mound: testnet/mainnet mismatch")

// Schema is the opaque pair a codex id resolves to: the schema bytes the
// external VM validates against, and the codex (state-machine) bytes
// themselves. The core never interprets either.
type Schema struct {
	Bytes []byte
	Codex []byte
}

// PileOpener allocates the backing KV store for a newly issued or newly
// received contract. Production callers pass one backed by
// pkg/pile/fsstore (one directory per contract, per spec.md §6);
// tests pass one backed by pkg/pile.NewMemKV.
type PileOpener interface {
	Open(contractId codec.ContractId) (pile.KV, error)
}

// IssueParams describes a new contract's genesis, independent of any
// particular codex registration.
type IssueParams struct {
	CodexId         codec.CodexId
	ContractName    string
	ConsensusTag    string
	Testnet         bool
	IssuerTimestamp int64
	GenesisOutputs  []opgraph.DataCell
	GenesisGlobal   []opgraph.GlobalEntry
}

// Observer receives Mound-level events for instrumentation, e.g.
// pkg/metrics.Metrics.
type Observer interface {
	RecordConsign()
	RecordConsume(outcome string)
	RecordUnresolvedTerminalSeals(n int)
	SetContractsHeld(n int)
}

type noopObserver struct{}

func (noopObserver) RecordConsign()                   {}
func (noopObserver) RecordConsume(string)             {}
func (noopObserver) RecordUnresolvedTerminalSeals(int) {}
func (noopObserver) SetContractsHeld(int)             {}

// Mound holds many contracts plus the schema registry they issue
// against (spec.md §4.G).
type Mound struct {
	mu sync.RWMutex

	consensusTag string
	testnet      bool

	schemas   map[codec.CodexId]Schema
	contracts map[codec.ContractId]*contract.Contract
	names     map[codec.ContractId]string

	opener    PileOpener
	validator vm.Validator

	observer         Observer
	pileObserver     pile.Observer
	contractObserver contract.Observer
}

// Option configures a Mound at construction.
type Option func(*Mound)

// WithValidator overrides the default vm.AlwaysValid used for every
// contract this Mound issues or receives.
func WithValidator(v vm.Validator) Option {
	return func(m *Mound) { m.validator = v }
}

// WithObserver installs a metrics/logging observer invoked on issue,
// consign, and consume. If o also implements pile.Observer and/or
// contract.Observer (as pkg/metrics.Metrics does), it is installed on
// every pile and contract this Mound constructs too. See pkg/metrics.Metrics.
func WithObserver(o Observer) Option {
	return func(m *Mound) {
		m.observer = o
		if po, ok := o.(pile.Observer); ok {
			m.pileObserver = po
		}
		if co, ok := o.(contract.Observer); ok {
			m.contractObserver = co
		}
	}
}

// New builds an empty Mound configured for one consensus layer/network.
func New(consensusTag string, testnet bool, opener PileOpener, opts ...Option) *Mound {
	m := &Mound{
		consensusTag: consensusTag,
		testnet:      testnet,
		schemas:      make(map[codec.CodexId]Schema),
		contracts:    make(map[codec.ContractId]*contract.Contract),
		names:        make(map[codec.ContractId]string),
		opener:       opener,
		validator:    vm.AlwaysValid{},
		observer:     noopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// newContract opens a pile and constructs a Contract, wiring in whatever
// pile/contract observer WithObserver installed.
func (m *Mound) newContract(contractId codec.ContractId, articles opgraph.Articles) (*contract.Contract, error) {
	kv, err := m.opener.Open(contractId)
	if err != nil {
		return nil, fmt.Errorf("mound: open pile: %w", err)
	}
	var pileOpts []pile.Option
	if m.pileObserver != nil {
		pileOpts = append(pileOpts, pile.WithObserver(m.pileObserver))
	}
	var contractOpts []contract.Option
	contractOpts = append(contractOpts, contract.WithValidator(m.validator))
	if m.contractObserver != nil {
		contractOpts = append(contractOpts, contract.WithObserver(m.contractObserver))
	}
	return contract.New(articles, pile.New(kv, pileOpts...), contractOpts...)
}

// RegisterSchema installs a codex as a known issuer, enabling both
// Issue(codexId, ...) and unsolicited Consume of a consignment whose
// genesis references this codex.
func (m *Mound) RegisterSchema(codexId codec.CodexId, schema Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[codexId] = schema
}

// HasContract reports whether id names a contract already held by this
// Mound. Callers are expected to check this before Contract/ContractMut,
// whose absence behavior is a panic (spec.md §4.G).
func (m *Mound) HasContract(id codec.ContractId) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contracts[id]
	return ok
}

// Contract returns the contract named id, panicking if this Mound does
// not hold it. Mirrors spec.md §4.G's documented invariant: callers must
// call HasContract first.
func (m *Mound) Contract(id codec.ContractId) *contract.Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		panic(fmt.Sprintf("mound: no contract %s", id))
	}
	return c
}

// ContractMut is Contract; Go has no separate mutable-borrow type, and
// Contract's own methods already serialize mutation internally.
func (m *Mound) ContractMut(id codec.ContractId) *contract.Contract {
	return m.Contract(id)
}

// Contracts lists every held contract id, sorted for determinism.
func (m *Mound) Contracts() []codec.ContractId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]codec.ContractId, 0, len(m.contracts))
	for id := range m.contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessBytes(ids[i][:], ids[j][:]) })
	return ids
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Issue looks up params.CodexId in the schema registry, builds a fresh
// genesis/Articles, allocates a new pile, and installs the resulting
// contract into the registry (spec.md §4.G).
func (m *Mound) Issue(params IssueParams) (codec.ContractId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	schema, ok := m.schemas[params.CodexId]
	if !ok {
		return codec.ContractId{}, fmt.Errorf("%w: %s", ErrUnknownCodex, params.CodexId)
	}
	if params.ConsensusTag != m.consensusTag {
		return codec.ContractId{}, fmt.Errorf("%w: genesis wants %q, mound is %q", ErrConsensusMismatch, params.ConsensusTag, m.consensusTag)
	}
	if params.Testnet != m.testnet {
		return codec.ContractId{}, fmt.Errorf("%w: genesis testnet=%v, mound testnet=%v", ErrTestnetMismatch, params.Testnet, m.testnet)
	}

	outputs := make([]opgraph.DataCell, len(params.GenesisOutputs))
	for i, out := range params.GenesisOutputs {
		outputs[i] = out
		if outputs[i].Commitment == ([32]byte{}) {
			outputs[i].Commitment = codec.TaggedHash(codec.TagState, out.Data)
		}
	}

	genesis := opgraph.Genesis{
		Operation: opgraph.Operation{
			Method:  "issue",
			Outputs: outputs,
			Global:  params.GenesisGlobal,
		},
		CodexId:         params.CodexId,
		ConsensusTag:    params.ConsensusTag,
		Testnet:         params.Testnet,
		ContractName:    params.ContractName,
		IssuerTimestamp: params.IssuerTimestamp,
	}
	articles := opgraph.Articles{Genesis: genesis, Schema: schema.Bytes, Codex: schema.Codex}

	contractId, err := articles.ContractId()
	if err != nil {
		return codec.ContractId{}, fmt.Errorf("mound: derive contract id: %w", err)
	}
	if _, exists := m.contracts[contractId]; exists {
		return contractId, nil
	}

	c, err := m.newContract(contractId, articles)
	if err != nil {
		return codec.ContractId{}, fmt.Errorf("mound: construct contract: %w", err)
	}

	m.contracts[contractId] = c
	m.names[contractId] = fmt.Sprintf("%s-%s", params.ContractName, uuid.NewString())
	m.observer.SetContractsHeld(len(m.contracts))
	return contractId, nil
}

// Name returns the display name this Mound recorded for a contract at
// issue or consume time (used to derive its directory name on disk).
func (m *Mound) Name(id codec.ContractId) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.names[id]
	return name, ok
}

// Consign extracts the ancestor closure of terminals from contractId's
// contract and writes it to w as a raw consignment stream (spec.md §4.F,
// §4.G).
func (m *Mound) Consign(contractId codec.ContractId, terminals []codec.AuthToken, w io.Writer) error {
	if !m.HasContract(contractId) {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractId)
	}
	c := m.Contract(contractId)
	cons, err := consignment.Extract(c, terminals)
	if err != nil {
		return err
	}
	if err := consignment.WriteStream(w, cons); err != nil {
		return err
	}
	m.observer.RecordConsign()
	return nil
}

// Consume reads a consignment stream from r, then either merges it into
// an already-held contract or, if the contract is new but its codex is a
// registered issuer, allocates a fresh contract and merges into that
// (spec.md §4.G).
func (m *Mound) Consume(r io.Reader, resolver seal.Resolver) (codec.ContractId, error) {
	cons, err := consignment.ReadStream(r)
	if err != nil {
		return codec.ContractId{}, err
	}

	m.mu.Lock()
	target, ok := m.contracts[cons.ContractId]
	if !ok {
		_, known := m.schemas[cons.Articles.Genesis.CodexId]
		if !known {
			m.mu.Unlock()
			return codec.ContractId{}, fmt.Errorf("%w: %s", ErrUnknownContract, cons.ContractId)
		}
		if cons.Articles.Genesis.ConsensusTag != m.consensusTag {
			m.mu.Unlock()
			return codec.ContractId{}, fmt.Errorf("%w: consignment wants %q, mound is %q", ErrConsensusMismatch, cons.Articles.Genesis.ConsensusTag, m.consensusTag)
		}
		if cons.Articles.Genesis.Testnet != m.testnet {
			m.mu.Unlock()
			return codec.ContractId{}, fmt.Errorf("%w: consignment testnet=%v, mound testnet=%v", ErrTestnetMismatch, cons.Articles.Genesis.Testnet, m.testnet)
		}
		// The registered schema's bytes are not substituted in: cons.Articles
		// already carries the issuer's own Schema/Codex bytes, and
		// registration here only gates which codex ids this Mound trusts
		// enough to originate a brand-new contract from.
		c, err := m.newContract(cons.ContractId, cons.Articles)
		if err != nil {
			m.mu.Unlock()
			return codec.ContractId{}, fmt.Errorf("mound: construct contract: %w", err)
		}
		m.contracts[cons.ContractId] = c
		m.names[cons.ContractId] = fmt.Sprintf("%s-%s", cons.Articles.Genesis.ContractName, uuid.NewString())
		target = c
		m.observer.SetContractsHeld(len(m.contracts))
	}
	m.mu.Unlock()

	if err := consignment.Merge(target, cons, resolver); err != nil {
		if errors.Is(err, consignment.ErrUnresolvableSeals) {
			m.observer.RecordUnresolvedTerminalSeals(1)
		}
		m.observer.RecordConsume("error")
		return codec.ContractId{}, err
	}
	m.observer.RecordConsume("ok")
	return cons.ContractId, nil
}

// WitnessesSince fans WitnessesSince(generation) out across every held
// contract, for a host driving one chain-oracle poll loop over the whole
// Mound rather than one per contract.
func (m *Mound) WitnessesSince(generation uint64) (map[codec.ContractId][]codec.WitnessId, error) {
	m.mu.RLock()
	ids := make([]codec.ContractId, 0, len(m.contracts))
	contracts := make(map[codec.ContractId]*contract.Contract, len(m.contracts))
	for id, c := range m.contracts {
		ids = append(ids, id)
		contracts[id] = c
	}
	m.mu.RUnlock()

	out := make(map[codec.ContractId][]codec.WitnessId, len(ids))
	for _, id := range ids {
		changed, err := contracts[id].WitnessesSince(generation)
		if err != nil {
			return nil, fmt.Errorf("mound: witnesses since for %s: %w", id, err)
		}
		if len(changed) > 0 {
			out[id] = changed
		}
	}
	return out, nil
}

// MaxGeneration returns the highest committed generation counter across
// every held contract's pile, 0 if none are held. A chain-oracle poll
// loop uses this to advance the cursor it passes to WitnessesSince.
func (m *Mound) MaxGeneration() (uint64, error) {
	m.mu.RLock()
	contracts := make([]*contract.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		contracts = append(contracts, c)
	}
	m.mu.RUnlock()

	var max uint64
	for _, c := range contracts {
		gen, err := c.Generation()
		if err != nil {
			return 0, err
		}
		if gen > max {
			max = gen
		}
	}
	return max, nil
}
