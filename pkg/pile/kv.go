// Package pile implements the persistent index over operations, seals,
// and witnesses: the six logically distinct maps of spec.md §4.D (hoard,
// cache, keep, index, stand, mine) plus the durability invariant and the
// reorg-aware transactional generation counter that backs witnesses_since.
package pile

import "errors"

// ErrNotFound is returned by KV.Get when the key is absent. Grounded on
// the teacher's ledger.KV contract, which instead returns (nil, nil) for
// a miss; this pile tightens that into an explicit sentinel so
// "witness not present" and "storage failure" are never conflated.
var ErrNotFound = errors.New("pile: key not found")

// KV is the minimal ordered key-value contract the pile needs from its
// backing store: point reads/writes, deletion, and a sorted-range scan.
// Mirrors the shape of the teacher's ledger.KV, extended with Delete and
// Iterator so the pile can maintain the stand/index sets and the mine
// generation history without loading the whole store into memory.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterator returns a sorted iterator over keys in [start, end). A nil
	// end means "through the end of the keyspace".
	Iterator(start, end []byte) (Iterator, error)
}

// Iterator walks a sorted key range. Callers must Close it.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// MemKV is a trivial in-memory KV used by tests and by callers who do not
// need durability (e.g. validating a consignment before deciding whether
// to persist it).
type MemKV struct {
	data map[string][]byte
	keys []string // kept sorted for Iterator
}

// NewMemKV creates an empty in-memory KV store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements KV.
func (m *MemKV) Set(key, value []byte) error {
	k := string(key)
	if _, exists := m.data[k]; !exists {
		m.insertSorted(k)
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[k] = v
	return nil
}

// Delete implements KV.
func (m *MemKV) Delete(key []byte) error {
	k := string(key)
	if _, exists := m.data[k]; !exists {
		return nil
	}
	delete(m.data, k)
	m.removeSorted(k)
	return nil
}

func (m *MemKV) insertSorted(k string) {
	i := m.searchIndex(k)
	m.keys = append(m.keys, "")
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = k
}

func (m *MemKV) removeSorted(k string) {
	i := m.searchIndex(k)
	if i < len(m.keys) && m.keys[i] == k {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
}

func (m *MemKV) searchIndex(k string) int {
	lo, hi := 0, len(m.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.keys[mid] < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Iterator implements KV.
func (m *MemKV) Iterator(start, end []byte) (Iterator, error) {
	lo := m.searchIndex(string(start))
	hi := len(m.keys)
	if end != nil {
		hi = m.searchIndex(string(end))
	}
	keys := make([]string, hi-lo)
	copy(keys, m.keys[lo:hi])
	return &memIterator{m: m, keys: keys, pos: 0}, nil
}

type memIterator struct {
	m    *MemKV
	keys []string
	pos  int
}

func (it *memIterator) Valid() bool { return it.pos < len(it.keys) }
func (it *memIterator) Next()       { it.pos++ }
func (it *memIterator) Key() []byte { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte {
	v, _ := it.m.data[it.keys[it.pos]]
	return v
}
func (it *memIterator) Close() error { return nil }
