// Package opgraph implements the operation graph: genesis and
// state-transition records, their canonical encoding, and the contract
// descriptor (Articles) derived from a genesis at issuance (spec.md §3,
// §4.B).
package opgraph

import (
	"bytes"
	"sort"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
)

// CellAddr names a prior operation output by (opid, output index).
type CellAddr struct {
	Opid  codec.Opid
	Index uint16
}

func (a CellAddr) encode(w *codec.Writer) error {
	if err := w.WriteBytes(a.Opid[:]); err != nil {
		return err
	}
	return w.WriteU16(a.Index)
}

func decodeCellAddr(r *codec.Reader) (CellAddr, error) {
	var a CellAddr
	b, err := r.ReadBytes(32)
	if err != nil {
		return a, err
	}
	copy(a.Opid[:], b)
	a.Index, err = r.ReadU16()
	return a, err
}

// Input is a consumed prior output, optionally carrying the witness value
// that satisfies the schema's input predicate. The core never interprets
// the witness bytes.
type Input struct {
	Addr    CellAddr
	Witness []byte
}

func (in Input) encode(w *codec.Writer) error {
	if err := in.Addr.encode(w); err != nil {
		return err
	}
	if err := w.WriteBool(in.Witness != nil); err != nil {
		return err
	}
	if in.Witness != nil {
		return w.WriteSmallBytes(in.Witness)
	}
	return nil
}

func decodeInput(r *codec.Reader) (Input, error) {
	var in Input
	addr, err := decodeCellAddr(r)
	if err != nil {
		return in, err
	}
	in.Addr = addr
	has, err := r.ReadBool()
	if err != nil {
		return in, err
	}
	if has {
		in.Witness, err = r.ReadSmallBytes()
		if err != nil {
			return in, err
		}
	}
	return in, nil
}

// DataCell is an operation output: a state commitment, the auth token of
// the seal definition guarding it, and an optional lock script/condition.
// Commitment is a tagged hash of Data and travels on the wire whether or
// not Data itself is revealed (spec.md §4.F); Data is nil when this
// party only holds the confidential form of the cell's state half.
type DataCell struct {
	Commitment [32]byte
	Data       []byte
	Auth       codec.AuthToken
	Lock       []byte
}

// NewDataCell commits data and marks the cell fully revealed. Every
// output a contract originates goes through this constructor so its
// Commitment is always derived from the real Data, never left zero.
func NewDataCell(data []byte, auth codec.AuthToken) DataCell {
	return DataCell{Commitment: codec.TaggedHash(codec.TagState, data), Data: data, Auth: auth}
}

func (c DataCell) encode(w *codec.Writer) error {
	if err := w.WriteBytes(c.Commitment[:]); err != nil {
		return err
	}
	if err := w.WriteBool(c.Data != nil); err != nil {
		return err
	}
	if c.Data != nil {
		if err := w.WriteMediumBytes(c.Data); err != nil {
			return err
		}
	}
	if err := w.WriteBytes(c.Auth[:]); err != nil {
		return err
	}
	if err := w.WriteBool(c.Lock != nil); err != nil {
		return err
	}
	if c.Lock != nil {
		return w.WriteSmallBytes(c.Lock)
	}
	return nil
}

// encodeCommitment writes only the reveal-invariant half of the cell —
// its state commitment, auth token, and lock — never the revealed Data.
// This is what Operation.Opid hashes over, so an operation's identity
// does not depend on which of its cells a given delivery reveals
// (spec.md §4.F, §8 Scenario 5).
func (c DataCell) encodeCommitment(w *codec.Writer) error {
	if err := w.WriteBytes(c.Commitment[:]); err != nil {
		return err
	}
	if err := w.WriteBytes(c.Auth[:]); err != nil {
		return err
	}
	if err := w.WriteBool(c.Lock != nil); err != nil {
		return err
	}
	if c.Lock != nil {
		return w.WriteSmallBytes(c.Lock)
	}
	return nil
}

func decodeDataCell(r *codec.Reader) (DataCell, error) {
	var c DataCell
	commitment, err := r.ReadBytes(32)
	if err != nil {
		return c, err
	}
	copy(c.Commitment[:], commitment)
	hasData, err := r.ReadBool()
	if err != nil {
		return c, err
	}
	if hasData {
		c.Data, err = r.ReadMediumBytes()
		if err != nil {
			return c, err
		}
	}
	auth, err := r.ReadBytes(codec.AuthTokenLen)
	if err != nil {
		return c, err
	}
	copy(c.Auth[:], auth)
	has, err := r.ReadBool()
	if err != nil {
		return c, err
	}
	if has {
		c.Lock, err = r.ReadSmallBytes()
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// GlobalEntry is one append-only global-state key/value addition.
type GlobalEntry struct {
	Name  string
	Value []byte
}

func (g GlobalEntry) encode(w *codec.Writer) error {
	if err := w.WriteString(g.Name); err != nil {
		return err
	}
	return w.WriteMediumBytes(g.Value)
}

func decodeGlobalEntry(r *codec.Reader) (GlobalEntry, error) {
	var g GlobalEntry
	name, err := r.ReadString()
	if err != nil {
		return g, err
	}
	g.Name = name
	g.Value, err = r.ReadMediumBytes()
	return g, err
}

// Operation is the sole unit of state change in a contract (spec.md §4.B).
type Operation struct {
	ContractId codec.ContractId
	Method     string
	Inputs     []Input
	Outputs    []DataCell
	Global     []GlobalEntry
	// Reads are read-only dependencies: prior cells this operation commits
	// to without consuming, pulling them into its dependency closure.
	Reads []CellAddr
}

// EncodeRGB implements codec.Encoder.
func (op Operation) EncodeRGB(w *codec.Writer) error {
	if err := w.WriteBytes(op.ContractId[:]); err != nil {
		return err
	}
	if err := w.WriteString(op.Method); err != nil {
		return err
	}
	if err := w.WriteSmallLen(len(op.Inputs)); err != nil {
		return err
	}
	for _, in := range op.Inputs {
		if err := in.encode(w); err != nil {
			return err
		}
	}
	if err := w.WriteSmallLen(len(op.Outputs)); err != nil {
		return err
	}
	for _, out := range op.Outputs {
		if err := out.encode(w); err != nil {
			return err
		}
	}
	if err := w.WriteSmallLen(len(op.Global)); err != nil {
		return err
	}
	for _, g := range op.Global {
		if err := g.encode(w); err != nil {
			return err
		}
	}
	if err := w.WriteSmallLen(len(op.Reads)); err != nil {
		return err
	}
	for _, addr := range op.Reads {
		if err := addr.encode(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRGB implements codec.Decoder.
func (op *Operation) DecodeRGB(r *codec.Reader) error {
	cid, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(op.ContractId[:], cid)
	op.Method, err = r.ReadString()
	if err != nil {
		return err
	}

	nIn, err := r.ReadSmallLen()
	if err != nil {
		return err
	}
	op.Inputs = make([]Input, nIn)
	for i := range op.Inputs {
		op.Inputs[i], err = decodeInput(r)
		if err != nil {
			return err
		}
	}

	nOut, err := r.ReadSmallLen()
	if err != nil {
		return err
	}
	op.Outputs = make([]DataCell, nOut)
	for i := range op.Outputs {
		op.Outputs[i], err = decodeDataCell(r)
		if err != nil {
			return err
		}
	}

	nGlobal, err := r.ReadSmallLen()
	if err != nil {
		return err
	}
	op.Global = make([]GlobalEntry, nGlobal)
	for i := range op.Global {
		op.Global[i], err = decodeGlobalEntry(r)
		if err != nil {
			return err
		}
	}

	nReads, err := r.ReadSmallLen()
	if err != nil {
		return err
	}
	op.Reads = make([]CellAddr, nReads)
	for i := range op.Reads {
		op.Reads[i], err = decodeCellAddr(r)
		if err != nil {
			return err
		}
	}
	return nil
}

// Encoded returns the canonical wire encoding of the operation.
func (op Operation) Encoded() ([]byte, error) {
	return codec.Encode(op.EncodeRGB)
}

// encodeOpid writes the reveal-invariant encoding Opid hashes: identical
// to EncodeRGB except every output is written via encodeCommitment
// rather than encode, so a confidential and a revealed delivery of the
// same logical operation produce the same bytes here even though their
// EncodeRGB output differs (spec.md §4.F, §8 Scenario 5).
func (op Operation) encodeOpid(w *codec.Writer) error {
	if err := w.WriteBytes(op.ContractId[:]); err != nil {
		return err
	}
	if err := w.WriteString(op.Method); err != nil {
		return err
	}
	if err := w.WriteSmallLen(len(op.Inputs)); err != nil {
		return err
	}
	for _, in := range op.Inputs {
		if err := in.encode(w); err != nil {
			return err
		}
	}
	if err := w.WriteSmallLen(len(op.Outputs)); err != nil {
		return err
	}
	for _, out := range op.Outputs {
		if err := out.encodeCommitment(w); err != nil {
			return err
		}
	}
	if err := w.WriteSmallLen(len(op.Global)); err != nil {
		return err
	}
	for _, g := range op.Global {
		if err := g.encode(w); err != nil {
			return err
		}
	}
	if err := w.WriteSmallLen(len(op.Reads)); err != nil {
		return err
	}
	for _, addr := range op.Reads {
		if err := addr.encode(w); err != nil {
			return err
		}
	}
	return nil
}

// Opid hashes the reveal-invariant encoding, assigning the operation's
// identity. It depends on each output's state Commitment, never its
// Data, so the same logical operation hashes to the same Opid whether
// or not a given delivery reveals its state (spec.md §4.F, §8 Scenario 5).
func (op Operation) Opid() (codec.Opid, error) {
	enc, err := codec.Encode(op.encodeOpid)
	if err != nil {
		return codec.Opid{}, err
	}
	return codec.Opid(codec.TaggedHash(codec.TagOpid, enc)), nil
}

// Genesis is the distinguished, input-less operation that establishes a
// contract and carries its schema metadata (spec.md §3).
type Genesis struct {
	Operation       Operation
	CodexId         codec.CodexId
	ConsensusTag    string
	Testnet         bool
	ContractName    string
	IssuerTimestamp int64
}

// EncodeRGB implements codec.Encoder.
func (g Genesis) EncodeRGB(w *codec.Writer) error {
	if err := g.Operation.EncodeRGB(w); err != nil {
		return err
	}
	if err := w.WriteBytes(g.CodexId[:]); err != nil {
		return err
	}
	if err := w.WriteString(g.ConsensusTag); err != nil {
		return err
	}
	if err := w.WriteBool(g.Testnet); err != nil {
		return err
	}
	if err := w.WriteString(g.ContractName); err != nil {
		return err
	}
	return w.WriteU64(uint64(g.IssuerTimestamp))
}

// DecodeRGB implements codec.Decoder.
func (g *Genesis) DecodeRGB(r *codec.Reader) error {
	if err := g.Operation.DecodeRGB(r); err != nil {
		return err
	}
	codexId, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(g.CodexId[:], codexId)
	if g.ConsensusTag, err = r.ReadString(); err != nil {
		return err
	}
	if g.Testnet, err = r.ReadBool(); err != nil {
		return err
	}
	if g.ContractName, err = r.ReadString(); err != nil {
		return err
	}
	ts, err := r.ReadU64()
	if err != nil {
		return err
	}
	g.IssuerTimestamp = int64(ts)
	return nil
}

// Encoded returns the canonical wire encoding of the genesis.
func (g Genesis) Encoded() ([]byte, error) {
	return codec.Encode(g.EncodeRGB)
}

// encodeOpid mirrors EncodeRGB but hashes the genesis operation's
// reveal-invariant form, for the same reason Operation.encodeOpid exists.
func (g Genesis) encodeOpid(w *codec.Writer) error {
	if err := g.Operation.encodeOpid(w); err != nil {
		return err
	}
	if err := w.WriteBytes(g.CodexId[:]); err != nil {
		return err
	}
	if err := w.WriteString(g.ConsensusTag); err != nil {
		return err
	}
	if err := w.WriteBool(g.Testnet); err != nil {
		return err
	}
	if err := w.WriteString(g.ContractName); err != nil {
		return err
	}
	return w.WriteU64(uint64(g.IssuerTimestamp))
}

// Opid hashes the genesis's reveal-invariant encoding (operation fields
// plus schema metadata); by spec.md §3 this hash doubles as the contract
// id, so a genesis with confidential outputs yields the same contract id
// regardless of which party's delivery reveals them.
func (g Genesis) Opid() (codec.Opid, error) {
	enc, err := codec.Encode(g.encodeOpid)
	if err != nil {
		return codec.Opid{}, err
	}
	return codec.Opid(codec.TaggedHash(codec.TagOpid, enc)), nil
}

// ContractId returns the genesis's opid reinterpreted as a contract id —
// the two are the same 32 bytes under spec.md §3's "its opid is the
// contract id" rule, held as distinct Go types to keep call sites honest
// about which identity space a value belongs to.
func (g Genesis) ContractId() (codec.ContractId, error) {
	opid, err := g.Opid()
	if err != nil {
		return codec.ContractId{}, err
	}
	return codec.ContractId(opid), nil
}

// Articles is the immutable per-contract descriptor derived at issuance:
// genesis, schema, codex, issuer metadata. Schema and Codex are opaque
// blobs — the human-readable type system and the VM's bytecode/ruleset
// are external collaborators (spec.md §1, §6) this core never interprets.
type Articles struct {
	Genesis Genesis
	Schema  []byte
	Codex   []byte
}

// EncodeRGB implements codec.Encoder.
func (a Articles) EncodeRGB(w *codec.Writer) error {
	if err := a.Genesis.EncodeRGB(w); err != nil {
		return err
	}
	if err := w.WriteMediumBytes(a.Schema); err != nil {
		return err
	}
	return w.WriteMediumBytes(a.Codex)
}

// DecodeRGB implements codec.Decoder.
func (a *Articles) DecodeRGB(r *codec.Reader) error {
	if err := a.Genesis.DecodeRGB(r); err != nil {
		return err
	}
	var err error
	if a.Schema, err = r.ReadMediumBytes(); err != nil {
		return err
	}
	a.Codex, err = r.ReadMediumBytes()
	return err
}

// ContractId delegates to the genesis.
func (a Articles) ContractId() (codec.ContractId, error) {
	return a.Genesis.ContractId()
}

// OrderKey is the total order spec.md §4.B defines over operations within
// a contract: (witness height, witness id, position within witness
// bundle, opid), all compared lexicographically. It matters only for
// computing deterministic state snapshots; callers derive one OrderKey per
// operation from the witness that closes it (or a zero witness height/id
// for not-yet-witnessed operations, which sort first).
type OrderKey struct {
	WitnessHeight uint64
	WitnessId     codec.WitnessId
	Position      uint32
	Opid          codec.Opid
}

// Less implements the tuple comparison.
func (k OrderKey) Less(other OrderKey) bool {
	if k.WitnessHeight != other.WitnessHeight {
		return k.WitnessHeight < other.WitnessHeight
	}
	if c := bytes.Compare(k.WitnessId[:], other.WitnessId[:]); c != 0 {
		return c < 0
	}
	if k.Position != other.Position {
		return k.Position < other.Position
	}
	return bytes.Compare(k.Opid[:], other.Opid[:]) < 0
}

// SortKeys sorts OrderKeys in place by the spec.md §4.B total order.
func SortKeys(keys []OrderKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
