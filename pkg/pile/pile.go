package pile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/seal"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// ErrCorrupted signals a durability invariant violation: a witness
// referenced from index/stand with no matching hoard/cache/mine entry.
// Per spec.md §4.D this is always fatal, never recoverable in place.
var ErrCorrupted = errors.New("pile: durability invariant violated")

// key prefixes for the six logical maps plus the mine generation counter
// and its pending/history shadow keys. One-byte prefixes keep every key
// short; the backing KV is never shared with unrelated data so collision
// with user namespaces is not a concern.
const (
	prefixHoard   = 'H' // WitnessId -> CliWitness
	prefixCache   = 'C' // WitnessId -> PubWitness
	prefixKeep    = 'K' // Opid -> SmallOrdMap<u16, SealDef>
	prefixIndex   = 'I' // Opid -> Set<WitnessId>
	prefixStand   = 'S' // WitnessId -> Set<Opid>
	prefixMine    = 'M' // WitnessId -> Status (current, committed)
	prefixPending = 'P' // WitnessId -> Status (uncommitted this transaction)
	prefixHistory = 'T' // generation(8, BE) || WitnessId -> Status
	keyGeneration = "G"
)

func key1(prefix byte, id [32]byte) []byte {
	k := make([]byte, 1+32)
	k[0] = prefix
	copy(k[1:], id[:])
	return k
}

func historyKey(generation uint64, wid codec.WitnessId) []byte {
	k := make([]byte, 1+8+32)
	k[0] = prefixHistory
	binary.BigEndian.PutUint64(k[1:9], generation)
	copy(k[9:], wid[:])
	return k
}

// Observer receives write-path events for instrumentation. Implementations
// must be safe for concurrent use; Pile calls them with its own lock held,
// so an Observer must never call back into the same Pile.
type Observer interface {
	RecordWrite(mapName string)
	RecordStatusTransition(status string)
}

type noopObserver struct{}

func (noopObserver) RecordWrite(string)           {}
func (noopObserver) RecordStatusTransition(string) {}

// Pile is the persistent index for one contract: hoard/cache/keep/index/
// stand/mine over an arbitrary ordered KV backend, plus the reorg-aware
// generation counter behind WitnessesSince (spec.md §4.D).
type Pile struct {
	mu       sync.Mutex
	kv       KV
	observer Observer
}

// Option configures a Pile at construction.
type Option func(*Pile)

// WithObserver installs a metrics/logging observer, invoked as the pile
// records witness writes and status transitions. See pkg/metrics.Metrics.
func WithObserver(o Observer) Option {
	return func(p *Pile) { p.observer = o }
}

// New wraps a KV backend as a Pile.
func New(kv KV, opts ...Option) *Pile {
	p := &Pile{kv: kv, observer: noopObserver{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasWitness reports whether the pile has ever recorded this witness.
func (p *Pile) HasWitness(wid codec.WitnessId) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.kv.Get(key1(prefixHoard, wid))
	return err == nil
}

// AddWitness records a witness closing opid, idempotently: re-adding the
// same (opid, wid, pub, cli) tuple leaves the pile in the same state
// (spec.md §4.D).
func (p *Pile) AddWitness(opid codec.Opid, wid codec.WitnessId, pub witness.PubWitness, cli witness.CliWitness) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.addToOpidSet(prefixIndex, opid, wid); err != nil {
		return fmt.Errorf("pile: add_witness index: %w", err)
	}
	if err := p.addToWitnessSet(prefixStand, wid, opid); err != nil {
		return fmt.Errorf("pile: add_witness stand: %w", err)
	}

	cliEnc, err := codec.Encode(cli.EncodeRGB)
	if err != nil {
		return fmt.Errorf("pile: encode client witness: %w", err)
	}
	if err := p.kv.Set(key1(prefixHoard, wid), cliEnc); err != nil {
		return fmt.Errorf("pile: write hoard: %w", err)
	}
	p.observer.RecordWrite("hoard")

	pubEnc, err := codec.Encode(pub.EncodeRGB)
	if err != nil {
		return fmt.Errorf("pile: encode published witness: %w", err)
	}
	if err := p.kv.Set(key1(prefixCache, wid), pubEnc); err != nil {
		return fmt.Errorf("pile: write cache: %w", err)
	}
	p.observer.RecordWrite("cache")

	if _, err := p.kv.Get(key1(prefixMine, wid)); errors.Is(err, ErrNotFound) {
		statusEnc, encErr := encodeStatus(witness.ArchivedStatus)
		if encErr != nil {
			return encErr
		}
		if err := p.kv.Set(key1(prefixMine, wid), statusEnc); err != nil {
			return fmt.Errorf("pile: initialize mine status: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("pile: read mine status: %w", err)
	}
	return nil
}

// AddSeals records the seal definitions an operation creates, merging with
// whatever is already on file for opid.
func (p *Pile) AddSeals(opid codec.Opid, seals map[uint16]seal.Def) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.opSealsLocked(opid)
	if err != nil {
		return err
	}
	for idx, def := range seals {
		existing[idx] = def
	}
	enc, err := encodeSealMap(existing)
	if err != nil {
		return fmt.Errorf("pile: encode keep map: %w", err)
	}
	if err := p.kv.Set(key1(prefixKeep, opid), enc); err != nil {
		return err
	}
	p.observer.RecordWrite("keep")
	return nil
}

// OpSeals returns the seal definitions recorded for opid.
func (p *Pile) OpSeals(opid codec.Opid) (map[uint16]seal.Def, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opSealsLocked(opid)
}

func (p *Pile) opSealsLocked(opid codec.Opid) (map[uint16]seal.Def, error) {
	raw, err := p.kv.Get(key1(prefixKeep, opid))
	if errors.Is(err, ErrNotFound) {
		return map[uint16]seal.Def{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pile: read keep: %w", err)
	}
	return decodeSealMap(raw)
}

// UpdateWitnessStatus stages a status change for wid, visible to other
// readers only after CommitTransaction (spec.md §4.D, §5). Calling this
// twice with the same status is equivalent to calling it once.
func (p *Pile) UpdateWitnessStatus(wid codec.WitnessId, status witness.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	enc, err := encodeStatus(status)
	if err != nil {
		return err
	}
	return p.kv.Set(key1(prefixPending, wid), enc)
}

// CommitTransaction flushes every pending status change into the current
// map and a new generation's history, then advances the generation
// counter. Prior-generation history entries remain queryable.
func (p *Pile) CommitTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen, err := p.generationLocked()
	if err != nil {
		return err
	}
	nextGen := gen + 1

	it, err := p.kv.Iterator([]byte{prefixPending}, []byte{prefixPending + 1})
	if err != nil {
		return fmt.Errorf("pile: iterate pending: %w", err)
	}
	defer it.Close()

	type pendingEntry struct {
		wid    codec.WitnessId
		status witness.Status
	}
	var pending []pendingEntry
	for it.Valid() {
		k := it.Key()
		if len(k) != 33 {
			return fmt.Errorf("%w: malformed pending key length %d", ErrCorrupted, len(k))
		}
		var wid codec.WitnessId
		copy(wid[:], k[1:])
		status, err := decodeStatus(it.Value())
		if err != nil {
			return err
		}
		pending = append(pending, pendingEntry{wid: wid, status: status})
		it.Next()
	}

	for _, e := range pending {
		enc, err := encodeStatus(e.status)
		if err != nil {
			return err
		}
		if err := p.kv.Set(key1(prefixMine, e.wid), enc); err != nil {
			return fmt.Errorf("pile: commit mine status: %w", err)
		}
		if err := p.kv.Set(historyKey(nextGen, e.wid), enc); err != nil {
			return fmt.Errorf("pile: write mine history: %w", err)
		}
		if err := p.kv.Delete(key1(prefixPending, e.wid)); err != nil {
			return fmt.Errorf("pile: clear pending: %w", err)
		}
		p.observer.RecordStatusTransition(e.status.Kind.String())
	}

	return p.setGenerationLocked(nextGen)
}

func (p *Pile) generationLocked() (uint64, error) {
	raw, err := p.kv.Get([]byte(keyGeneration))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pile: read generation: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: malformed generation counter", ErrCorrupted)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (p *Pile) setGenerationLocked(gen uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, gen)
	return p.kv.Set([]byte(keyGeneration), b)
}

// WitnessStatus returns the current, committed status of wid.
func (p *Pile) WitnessStatus(wid codec.WitnessId) (witness.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.kv.Get(key1(prefixMine, wid))
	if errors.Is(err, ErrNotFound) {
		return witness.Status{}, ErrNotFound
	}
	if err != nil {
		return witness.Status{}, fmt.Errorf("pile: read mine: %w", err)
	}
	return decodeStatus(raw)
}

// Generation returns the pile's current committed generation counter.
func (p *Pile) Generation() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generationLocked()
}

// WitnessesSince returns every witness id whose committed status changed
// in a generation strictly after the given one.
func (p *Pile) WitnessesSince(generation uint64) ([]codec.WitnessId, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := make([]byte, 1+8)
	start[0] = prefixHistory
	binary.BigEndian.PutUint64(start[1:], generation+1)
	end := []byte{prefixHistory + 1}

	it, err := p.kv.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("pile: iterate history: %w", err)
	}
	defer it.Close()

	seen := make(map[codec.WitnessId]struct{})
	var out []codec.WitnessId
	for it.Valid() {
		k := it.Key()
		if len(k) != 1+8+32 {
			return nil, fmt.Errorf("%w: malformed history key length %d", ErrCorrupted, len(k))
		}
		var wid codec.WitnessId
		copy(wid[:], k[9:])
		if _, dup := seen[wid]; !dup {
			seen[wid] = struct{}{}
			out = append(out, wid)
		}
		it.Next()
	}
	return out, nil
}

// Witness composes the full Witness record for wid from hoard, cache,
// mine, and stand.
func (p *Pile) Witness(wid codec.WitnessId) (witness.Witness, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cliRaw, err := p.kv.Get(key1(prefixHoard, wid))
	if err != nil {
		return witness.Witness{}, fmt.Errorf("pile: read hoard: %w", err)
	}
	var cli witness.CliWitness
	if err := cli.DecodeRGB(codec.NewReader(bytes.NewReader(cliRaw))); err != nil {
		return witness.Witness{}, fmt.Errorf("pile: decode client witness: %w", err)
	}

	pubRaw, err := p.kv.Get(key1(prefixCache, wid))
	if err != nil {
		return witness.Witness{}, fmt.Errorf("pile: read cache: %w", err)
	}
	var pub witness.PubWitness
	if err := pub.DecodeRGB(codec.NewReader(bytes.NewReader(pubRaw))); err != nil {
		return witness.Witness{}, fmt.Errorf("pile: decode published witness: %w", err)
	}

	statusRaw, err := p.kv.Get(key1(prefixMine, wid))
	if err != nil {
		return witness.Witness{}, fmt.Errorf("pile: read mine: %w", err)
	}
	status, err := decodeStatus(statusRaw)
	if err != nil {
		return witness.Witness{}, err
	}

	opids, err := p.opidSetLocked(wid)
	if err != nil {
		return witness.Witness{}, err
	}

	return witness.Witness{Id: wid, Published: pub, Client: cli, Status: status, Opids: opids}, nil
}

// OpWitnesses returns the witness ids closing opid's outputs.
func (p *Pile) OpWitnesses(opid codec.Opid) ([]codec.WitnessId, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.witnessSetLocked(opid)
}

func (p *Pile) addToOpidSet(prefix byte, opid codec.Opid, wid codec.WitnessId) error {
	set, err := p.witnessSetLocked(opid)
	if err != nil {
		return err
	}
	for _, existing := range set {
		if existing == wid {
			return nil
		}
	}
	set = append(set, wid)
	return p.kv.Set(key1(prefix, opid), encodeWitnessIdSet(set))
}

func (p *Pile) addToWitnessSet(prefix byte, wid codec.WitnessId, opid codec.Opid) error {
	set, err := p.opidSetLocked(wid)
	if err != nil {
		return err
	}
	for _, existing := range set {
		if existing == opid {
			return nil
		}
	}
	set = append(set, opid)
	return p.kv.Set(key1(prefix, wid), encodeOpidSet(set))
}

func (p *Pile) witnessSetLocked(opid codec.Opid) ([]codec.WitnessId, error) {
	raw, err := p.kv.Get(key1(prefixIndex, opid))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pile: read index: %w", err)
	}
	return decodeWitnessIdSet(raw)
}

func (p *Pile) opidSetLocked(wid codec.WitnessId) ([]codec.Opid, error) {
	raw, err := p.kv.Get(key1(prefixStand, wid))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pile: read stand: %w", err)
	}
	return decodeOpidSet(raw)
}

// CheckInvariants verifies the durability invariant of spec.md §4.D: every
// witness reachable from index/stand also has hoard, cache, and mine
// entries. A violation is fatal pile corruption.
func (p *Pile) CheckInvariants() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	witnesses := make(map[codec.WitnessId]struct{})

	indexIt, err := p.kv.Iterator([]byte{prefixIndex}, []byte{prefixIndex + 1})
	if err != nil {
		return err
	}
	defer indexIt.Close()
	for indexIt.Valid() {
		set, err := decodeWitnessIdSet(indexIt.Value())
		if err != nil {
			return err
		}
		for _, wid := range set {
			witnesses[wid] = struct{}{}
		}
		indexIt.Next()
	}

	standIt, err := p.kv.Iterator([]byte{prefixStand}, []byte{prefixStand + 1})
	if err != nil {
		return err
	}
	defer standIt.Close()
	for standIt.Valid() {
		k := standIt.Key()
		if len(k) != 33 {
			return fmt.Errorf("%w: malformed stand key", ErrCorrupted)
		}
		var wid codec.WitnessId
		copy(wid[:], k[1:])
		witnesses[wid] = struct{}{}
		standIt.Next()
	}

	ids := make([]codec.WitnessId, 0, len(witnesses))
	for wid := range witnesses {
		ids = append(ids, wid)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	for _, wid := range ids {
		if _, err := p.kv.Get(key1(prefixHoard, wid)); err != nil {
			return fmt.Errorf("%w: witness %s missing from hoard", ErrCorrupted, wid)
		}
		if _, err := p.kv.Get(key1(prefixCache, wid)); err != nil {
			return fmt.Errorf("%w: witness %s missing from cache", ErrCorrupted, wid)
		}
		if _, err := p.kv.Get(key1(prefixMine, wid)); err != nil {
			return fmt.Errorf("%w: witness %s missing from mine", ErrCorrupted, wid)
		}
	}
	return nil
}

func encodeStatus(s witness.Status) ([]byte, error) {
	return codec.Encode(func(w *codec.Writer) error {
		if err := w.WriteU8(uint8(s.Kind)); err != nil {
			return err
		}
		return w.WriteU64(s.Height)
	})
}

func decodeStatus(raw []byte) (witness.Status, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	kind, err := r.ReadU8()
	if err != nil {
		return witness.Status{}, err
	}
	height, err := r.ReadU64()
	if err != nil {
		return witness.Status{}, err
	}
	return witness.Status{Kind: witness.StatusKind(kind), Height: height}, nil
}

func encodeWitnessIdSet(set []codec.WitnessId) []byte {
	enc, _ := codec.Encode(func(w *codec.Writer) error {
		if err := w.WriteSmallLen(len(set)); err != nil {
			return err
		}
		for _, id := range set {
			if err := w.WriteBytes(id[:]); err != nil {
				return err
			}
		}
		return nil
	})
	return enc
}

func decodeWitnessIdSet(raw []byte) ([]codec.WitnessId, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	n, err := r.ReadSmallLen()
	if err != nil {
		return nil, err
	}
	out := make([]codec.WitnessId, n)
	for i := range out {
		b, err := r.ReadBytes(32)
		if err != nil {
			return nil, err
		}
		copy(out[i][:], b)
	}
	return out, nil
}

func encodeOpidSet(set []codec.Opid) []byte {
	enc, _ := codec.Encode(func(w *codec.Writer) error {
		if err := w.WriteSmallLen(len(set)); err != nil {
			return err
		}
		for _, id := range set {
			if err := w.WriteBytes(id[:]); err != nil {
				return err
			}
		}
		return nil
	})
	return enc
}

func decodeOpidSet(raw []byte) ([]codec.Opid, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	n, err := r.ReadSmallLen()
	if err != nil {
		return nil, err
	}
	out := make([]codec.Opid, n)
	for i := range out {
		b, err := r.ReadBytes(32)
		if err != nil {
			return nil, err
		}
		copy(out[i][:], b)
	}
	return out, nil
}

// encodeSealMap/decodeSealMap wrap seal.EncodeMap/DecodeMap, the shared
// SmallOrdMap<u16, SealDef> wire shape also used by consignment frames,
// for storage as a single KV value.
func encodeSealMap(m map[uint16]seal.Def) ([]byte, error) {
	return codec.Encode(func(w *codec.Writer) error { return seal.EncodeMap(w, m) })
}

func decodeSealMap(raw []byte) (map[uint16]seal.Def, error) {
	return seal.DecodeMap(codec.NewReader(bytes.NewReader(raw)))
}
